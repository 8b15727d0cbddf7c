package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trial-etl/config"
	"trial-etl/providers/clinicaltrials"
	"trial-etl/services"
	"trial-etl/storage"
)

func main() {
	condition := flag.String("condition", "", "Suchbegriff für die Registry (Standard: erster Eintrag aus CONDITIONS)")
	from := flag.String("from", "FETCHED", "Erste auszuführende Stufe: FETCHED, FLATTENED, VALIDATED oder LOADED")
	schemaOnly := flag.Bool("schema-only", false, "Nur das Schema anwenden und beenden")
	flag.Parse()

	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	if err := run(logging, *condition, *from, *schemaOnly); err != nil {
		logging.Error("ETL-Lauf fehlgeschlagen", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
}

func run(logging *zap.Logger, condition, from string, schemaOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	stage, err := services.ParseStage(from)
	if err != nil {
		return err
	}
	if condition == "" {
		if list := cfg.ConditionList(); len(list) > 0 {
			condition = list[0]
		}
	}

	db, err := storage.OpenDatabase(cfg, false)
	if err != nil {
		return err
	}
	if _, err := services.ApplySchema(ctx, db, logging); err != nil {
		return err
	}
	if schemaOnly {
		return nil
	}

	var archiver storage.Archiver
	if cfg.ArchiveEnabled() {
		s3Archive, err := storage.NewS3Archive(ctx, cfg)
		if err != nil {
			return err
		}
		archiver = s3Archive
	}
	fetchService := services.NewFetchService(
		clinicaltrials.NewFetcher(cfg, logging),
		storage.NewSnapshotStore(cfg.DataDir, archiver, logging),
		logging,
	)
	pipeline := services.NewPipeline(cfg, fetchService, services.NewLoader(db, logging), storage.NewTableStore(cfg.DataDir), logging)

	res, err := pipeline.Run(ctx, services.RunOptions{Condition: condition, From: stage})
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		logging.Warn("Ergebnis konnte nicht ausgegeben werden", zap.Error(encErr))
	}
	return err
}
