package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwong/prefscope/internal/api"
	"github.com/kwong/prefscope/internal/api/middleware"
	"github.com/kwong/prefscope/internal/config"
	"github.com/kwong/prefscope/internal/gateway"
	"github.com/kwong/prefscope/internal/logger"
	"github.com/kwong/prefscope/internal/repository"
	"github.com/kwong/prefscope/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	if cfg.Classifier.APIKey == "" {
		log.Error("OPENAI_API_KEY is not set; classification calls will fail")
	}

	db, err := repository.NewDB(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize database")
		os.Exit(1)
	}

	jobRepo := repository.NewJobRepository(db)
	responseRepo := repository.NewResponseRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)

	classifierClient := gateway.WithRetry(
		gateway.NewOpenAIClient(gateway.OpenAIConfig{
			APIKey:  cfg.Classifier.APIKey,
			BaseURL: cfg.Classifier.BaseURL,
			Timeout: cfg.Classifier.Timeout,
		}),
		cfg.Classifier.RetryCount,
	)

	classifier := service.NewClassifier(classifierClient, cfg.Classifier.RefusalModel, cfg.Classifier.ExtractionModel)
	resolver := service.NewResolver(classifierClient, cfg.Classifier.ExtractionModel)
	runner := service.NewRunner(cfg.Job, jobRepo, responseRepo, categoryRepo, classifier, resolver, log)
	results := service.NewResultsService(jobRepo, responseRepo, categoryRepo)

	router := api.SetupRouter(runner, results, log, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
	log.Info("server stopped")
}
