package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"trial-etl/config"
	"trial-etl/providers/clinicaltrials"
	"trial-etl/services"
	"trial-etl/storage"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connections
	db, err := storage.OpenDatabase(cfg, false)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err), zap.String("driver", cfg.DBDriver))
	}
	logging.Info("Successfully connected to database.", zap.String("driver", cfg.DBDriver))

	schema, err := services.ApplySchema(context.Background(), db, logging)
	if err != nil {
		logging.Fatal("Schema konnte nicht angewendet werden", zap.Error(err))
	}
	logging.Info("Schema bereit", zap.String("version", schema.Version), zap.Bool("newly_stamped", schema.Stamped))

	readDB, err := storage.OpenDatabase(cfg, true)
	if err != nil {
		logging.Fatal("Failed to open read-only connection", zap.Error(err))
	}

	// Setup Services
	var archiver storage.Archiver
	if cfg.ArchiveEnabled() {
		s3Archive, err := storage.NewS3Archive(context.Background(), cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		archiver = s3Archive
		logging.Info("Roh-Snapshots werden nach S3 gespiegelt", zap.String("bucket", cfg.ArchiveS3Bucket))
	}
	snapshots := storage.NewSnapshotStore(cfg.DataDir, archiver, logging)
	registry := clinicaltrials.NewFetcher(cfg, logging)
	fetchService := services.NewFetchService(registry, snapshots, logging)
	pipeline := services.NewPipeline(cfg, fetchService, services.NewLoader(db, logging), storage.NewTableStore(cfg.DataDir), logging)

	router := setupRouter(cfg, pipeline, db, readDB, logging)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Cron
	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled ingestion job...")
		for _, condition := range cfg.ConditionList() {
			res, err := pipeline.Run(context.Background(), services.RunOptions{Condition: condition, From: services.StageFetched})
			if err != nil {
				logging.Error("Cron job failed", zap.String("condition", condition), zap.Error(err))
				continue
			}
			logging.Info("Cron job completed", zap.String("condition", condition), zap.Int("inserted_rows", res.Load.Inserted()))
		}
	})
	if err != nil {
		logging.Fatal("Ungültiger CRON_SCHEDULE", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}
