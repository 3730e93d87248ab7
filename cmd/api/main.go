package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juancadavidc/bank-deposits/internal/api"
	"github.com/juancadavidc/bank-deposits/internal/cache"
	"github.com/juancadavidc/bank-deposits/internal/config"
	"github.com/juancadavidc/bank-deposits/internal/service"
	"github.com/juancadavidc/bank-deposits/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}

	pgStore, err := store.NewStore(cfg.DBSource)
	if err != nil {
		logger.Error("unable to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgStore.Close()

	// Initialize layers
	aggCache := cache.New(cfg.CacheTTL)
	aggCache.StartSweeper(cfg.SweepInterval)
	defer aggCache.Stop()

	metricsSvc := service.NewMetricsService(pgStore, aggCache, cfg.QueryTimeout, logger)
	ingestSvc := service.NewIngestService(pgStore, metricsSvc, logger)
	handler := api.NewHandler(cfg.WebhookSecret, ingestSvc, metricsSvc, pgStore, logger)

	// Router
	r := mux.NewRouter()
	r.Use(handler.RecoverMiddleware)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/webhook/sms", handler.WebhookHandler).Methods("POST")
	apiRouter.HandleFunc("/webhook/sms", handler.WebhookOptionsHandler).Methods("OPTIONS")
	apiRouter.HandleFunc("/transactions", handler.ListTransactionsHandler).Methods("GET")
	apiRouter.HandleFunc("/metrics/summary", handler.SummaryHandler).Methods("GET")
	apiRouter.HandleFunc("/parse-failures", handler.ListParseFailuresHandler).Methods("GET")
	apiRouter.HandleFunc("/parse-failures/{id}/resolve", handler.ResolveParseFailureHandler).Methods("POST")

	logger.Info("server starting", slog.String("port", cfg.Port), slog.String("env", cfg.Env))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
