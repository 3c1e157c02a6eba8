package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formbase/internal/api"
	"formbase/internal/config"
	"formbase/internal/crypto"
	"formbase/internal/database"
	"formbase/internal/handler"
	"formbase/internal/logger"
	"formbase/internal/server"
	"formbase/internal/services/cleanup"
	"formbase/internal/services/enrichment"
	"formbase/internal/services/locations"
	"formbase/internal/services/submission"
	syncsvc "formbase/internal/services/sync"

	"go.uber.org/zap"
)

func main() {
	var confPath string
	flag.StringVar(&confPath, "conf", "config/local.yml", "config file path")
	flag.Parse()

	conf, err := config.NewConfig(confPath)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	log := logger.NewLog(conf)
	defer log.Sync()

	if err := crypto.InitEncryption(conf.GetString("encryption.key")); err != nil {
		log.Fatal("failed to initialize encryption", zap.Error(err))
	}

	db, err := database.New(conf, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	resolver := api.NewResolver(db, conf.GetDuration("dhis2.timeout"), log)
	store := locations.NewStore(db, log)
	staging := syncsvc.NewStaging(conf.GetString("sync.staging_dir"))

	syncService := syncsvc.NewService(db, resolver, store, staging, conf.GetInt("sync.batch_size"), log)
	enrichmentService := enrichment.NewService(resolver, store, syncService, log)
	submissionService := submission.NewService(db, resolver, log)

	cleanupService := cleanup.NewService(db, staging,
		conf.GetDuration("sync.staging_max_age"), conf.GetString("sync.sweep_interval"), log)
	if err := cleanupService.Start(); err != nil {
		log.Fatal("failed to start staging sweep", zap.Error(err))
	}

	base := handler.NewHandler(log)
	srv := server.NewHTTPServer(conf, log,
		handler.NewSyncHandler(base, syncService, enrichmentService),
		handler.NewSubmissionHandler(base, submissionService),
		handler.NewInstanceHandler(base, db, resolver),
	)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cleanupService.Stop()
	if err := srv.Stop(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
