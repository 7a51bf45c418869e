package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/campuskit/academic-core/internal/repository"
	"github.com/campuskit/academic-core/internal/service"
	"github.com/campuskit/academic-core/pkg/config"
	"github.com/campuskit/academic-core/pkg/database"
	"github.com/campuskit/academic-core/pkg/jobs"
	"github.com/campuskit/academic-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	studentRepo := repository.NewStudentRepository(db)
	gradeRepo := repository.NewGradeRecordRepository(db)
	semesterRepo := repository.NewSemesterRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)
	jobRepo := repository.NewAnalyticsJobRepository(db)

	metrics := service.NewMetricsService()
	validate := validator.New()

	analyticsService := service.NewAnalyticsService(
		studentRepo, gradeRepo, semesterRepo, checkpointRepo,
		metrics, logr,
		service.AnalyticsServiceConfig{
			DefaultBatchSize: cfg.Analytics.BatchSize,
			DefaultTopN:      cfg.Analytics.ReportTopN,
			StoreTimeout:     cfg.Analytics.StoreTimeout,
		},
	)

	worker := service.NewAnalyticsWorker(jobRepo, analyticsService, cfg.Analytics.WorkerRetries, logr)
	queue := jobs.NewQueue("analytics", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Analytics.WorkerConcurrency,
		MaxRetries: cfg.Analytics.WorkerRetries,
		Logger:     logr,
	})
	queue.Start(ctx)

	jobService := service.NewAnalyticsJobService(jobRepo, queue, validate, logr)
	recovered, err := jobService.RecoverPendingJobs(ctx, 100)
	if err != nil {
		logr.Sugar().Errorw("failed to recover pending jobs", "error", err)
	} else if recovered > 0 {
		logr.Sugar().Infow("recovered pending analytics jobs", "count", recovered)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logr.Sugar().Infow("metrics server starting", "addr", cfg.MetricsAddr, "env", cfg.Env)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("metrics server shutdown failed", "error", err)
	}
	queue.Stop()
}
