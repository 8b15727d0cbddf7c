package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trial-etl/config"
	"trial-etl/models"
	"trial-etl/services"
)

const defaultViewLimit = 500

// setupRouter baut den Operator-Router. /health bleibt ohne API-Key erreichbar.
func setupRouter(cfg *config.Config, pipeline *services.Pipeline, db, readDB *gorm.DB, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	setupHealthRoutes(router, db, log)

	router.Use(apiKeyAuthMiddleware(cfg))
	setupRunRoutes(router, pipeline, log)
	setupViewRoutes(router, readDB, log)
	return router
}

func setupHealthRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	router.GET("/health", func(c *gin.Context) {
		versions, err := services.AppliedSchemaVersions(c.Request.Context(), db)
		if err != nil {
			log.Error("Health check: schema lookup failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database error"})
			return
		}
		applied := make([]string, 0, len(versions))
		for _, v := range versions {
			applied = append(applied, v.SchemaVersion)
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "schema_versions": applied})
	})
}

func setupRunRoutes(router *gin.Engine, pipeline *services.Pipeline, log *zap.Logger) {
	rg := router.Group("/runs")

	// Startet einen Lauf im Hintergrund; das Ergebnis ist über /runs/latest abrufbar.
	rg.POST("", func(c *gin.Context) {
		var req struct {
			Condition string `json:"condition"`
			From      string `json:"from"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		from, err := services.ParseStage(req.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		runID, err := pipeline.Start(context.Background(), services.RunOptions{Condition: req.Condition, From: from})
		if errors.Is(err, services.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Info("Pipeline-Lauf über API ausgelöst", zap.String("run_id", runID.String()), zap.String("from", string(from)))
		c.JSON(http.StatusAccepted, gin.H{"message": "Pipeline run triggered.", "run_id": runID})
	})

	rg.GET("/latest", func(c *gin.Context) {
		res, ok := pipeline.Latest()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

func setupViewRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/views")

	rg.GET("/ae-rates", func(c *gin.Context) {
		limit, ok := parseLimit(c)
		if !ok {
			return
		}
		query := db.WithContext(c.Request.Context()).Model(&models.AERatePerArm{})
		if nctID := c.Query("nct_id"); nctID != "" {
			query = query.Where("nct_id = ?", services.NormalizeIdentifier(nctID))
		}
		var rows []models.AERatePerArm
		if err := query.Order("nct_id, group_id, ae_term, serious").Limit(limit).Find(&rows).Error; err != nil {
			log.Error("Database query for ae_rate_per_arm failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	rg.GET("/serious-summary", func(c *gin.Context) {
		limit, ok := parseLimit(c)
		if !ok {
			return
		}
		var rows []models.SeriousAESummary
		err := db.WithContext(c.Request.Context()).
			Order("serious_ae_count desc, nct_id").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			log.Error("Database query for serious_ae_summary failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rows)
	})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultViewLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return limit, true
}
