package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/juancadavidc/bank-deposits/internal/domain"
	"github.com/juancadavidc/bank-deposits/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposits_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deposits_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	ingestOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposits_ingest_outcomes_total",
		Help: "Webhook deliveries by terminal lifecycle outcome",
	}, []string{"outcome"})

	duplicatePathTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposits_duplicate_detection_total",
		Help: "Duplicate deliveries by detection path (lookup vs constraint)",
	}, []string{"path"})
)

// Error strings surfaced in webhook responses.
const (
	errMissingAuth     = "missing_authorization_header"
	errInvalidToken    = "invalid_token"
	errBadContentType  = "invalid_content_type"
	errInvalidJSON     = "invalid_json"
	errInvalidEnvelope = "invalid_envelope"
	errStorage         = "storage_error"
	errInternal        = "internal_error"
)

type Handler struct {
	secret  string
	ingest  *service.IngestService
	metrics *service.MetricsService
	store   service.Store
	logger  *slog.Logger
}

func NewHandler(secret string, ingest *service.IngestService, metrics *service.MetricsService, store service.Store, logger *slog.Logger) *Handler {
	return &Handler{secret: secret, ingest: ingest, metrics: metrics, store: store, logger: logger}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WebhookHandler runs the ingestion state machine: authenticate, validate
// envelope, ingest, respond. Strictly sequential, terminal on first failure.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/api/webhook/sms"))
	defer timer.ObserveDuration()
	start := time.Now()

	// 1. Authenticate. Missing header and wrong credential are distinct
	// rejections; neither has side effects.
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		h.respondWebhook(w, r, http.StatusUnauthorized, domain.WebhookResponse{
			Status: "error", Error: errMissingAuth,
		}, start)
		return
	}
	if strings.TrimPrefix(authHeader, "Bearer ") != h.secret {
		h.respondWebhook(w, r, http.StatusUnauthorized, domain.WebhookResponse{
			Status: "error", Error: errInvalidToken,
		}, start)
		return
	}

	// 2. Content type and body.
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		h.respondWebhook(w, r, http.StatusBadRequest, domain.WebhookResponse{
			Status: "error", Error: errBadContentType,
		}, start)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondWebhook(w, r, http.StatusBadRequest, domain.WebhookResponse{
			Status: "error", Error: errInvalidJSON,
		}, start)
		return
	}

	// 3. Typed envelope construction.
	env, err := domain.ValidateEnvelope(body)
	if err != nil {
		reason := errInvalidEnvelope
		if errors.Is(err, domain.ErrInvalidJSON) {
			reason = errInvalidJSON
		}
		h.respondWebhook(w, r, http.StatusBadRequest, domain.WebhookResponse{
			Status: "error", Error: reason,
		}, start)
		return
	}

	// 4. Duplicate check, parse, persist.
	outcome, err := h.ingest.Process(r.Context(), env)
	if err != nil {
		var parseErr *domain.ParseError
		if errors.As(err, &parseErr) {
			h.respondWebhook(w, r, http.StatusBadRequest, domain.WebhookResponse{
				Status:    "error",
				WebhookID: env.WebhookID,
				Error:     string(parseErr.Reason),
			}, start)
			return
		}
		h.logger.Error("webhook ingestion failed",
			slog.String("webhook_id", env.WebhookID),
			slog.Any("error", err))
		h.respondWebhook(w, r, http.StatusInternalServerError, domain.WebhookResponse{
			Status:    "error",
			WebhookID: env.WebhookID,
			Error:     errStorage,
		}, start)
		return
	}

	if outcome.DuplicatePath != "" {
		duplicatePathTotal.WithLabelValues(outcome.DuplicatePath).Inc()
	}
	h.respondWebhook(w, r, http.StatusOK, domain.WebhookResponse{
		Status:        outcome.Status,
		TransactionID: outcome.Transaction.ID,
		WebhookID:     env.WebhookID,
	}, start)
}

// WebhookOptionsHandler answers preflight requests for the webhook endpoint.
func (h *Handler) WebhookOptionsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.WriteHeader(http.StatusNoContent)
	httpRequestsTotal.WithLabelValues("OPTIONS", "/api/webhook/sms", "204").Inc()
}

// ListTransactionsHandler serves paginated transaction reads for the UI.
// Query params: from, to (YYYY-MM-DD), limit, offset.
func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := transactionFilterFromQuery(r)
	if err != nil {
		h.respondWithError(w, r, "/api/transactions", http.StatusBadRequest, err.Error())
		return
	}

	txs, err := h.store.ListTransactions(r.Context(), filter)
	if err != nil {
		h.logger.Error("transaction list failed", slog.Any("error", err))
		h.respondWithError(w, r, "/api/transactions", http.StatusInternalServerError, errStorage)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	httpRequestsTotal.WithLabelValues("GET", "/api/transactions", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// SummaryHandler serves the cached period aggregate. Query params: period
// (daily|weekly|monthly), date (YYYY-MM-DD, default today).
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = service.PeriodDaily
	}

	anchor := time.Now().UTC()
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			h.respondWithError(w, r, "/api/metrics/summary", http.StatusBadRequest, "invalid date")
			return
		}
		anchor = parsed
	}

	agg, err := h.metrics.PeriodSummary(r.Context(), period, anchor)
	if err != nil {
		if errors.Is(err, service.ErrUnknownPeriod) {
			h.respondWithError(w, r, "/api/metrics/summary", http.StatusBadRequest, "invalid period")
			return
		}
		h.logger.Error("aggregate read failed",
			slog.String("period", period), slog.Any("error", err))
		h.respondWithError(w, r, "/api/metrics/summary", http.StatusInternalServerError, errStorage)
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/api/metrics/summary", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{
		"period":   period,
		"sum":      agg.Sum,
		"count":    agg.Count,
		"average":  agg.Average,
		"currency": domain.Currency,
	})
}

// ListParseFailuresHandler serves the manual-review queue. Query param:
// resolved (true|false).
func (h *Handler) ListParseFailuresHandler(w http.ResponseWriter, r *http.Request) {
	filter := domain.ParseFailureFilter{}
	if resolvedStr := r.URL.Query().Get("resolved"); resolvedStr != "" {
		resolved, err := strconv.ParseBool(resolvedStr)
		if err != nil {
			h.respondWithError(w, r, "/api/parse-failures", http.StatusBadRequest, "invalid resolved flag")
			return
		}
		filter.Resolved = &resolved
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit, _ = strconv.Atoi(limitStr)
	}

	failures, err := h.store.ListParseFailures(r.Context(), filter)
	if err != nil {
		h.logger.Error("parse failure list failed", slog.Any("error", err))
		h.respondWithError(w, r, "/api/parse-failures", http.StatusInternalServerError, errStorage)
		return
	}
	if failures == nil {
		failures = []domain.ParseFailure{}
	}

	httpRequestsTotal.WithLabelValues("GET", "/api/parse-failures", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{"parseFailures": failures})
}

// ResolveParseFailureHandler marks one failure record reviewed.
func (h *Handler) ResolveParseFailureHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.store.ResolveParseFailure(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.respondWithError(w, r, "/api/parse-failures/{id}/resolve", http.StatusNotFound, "parse failure not found")
			return
		}
		h.logger.Error("parse failure resolve failed",
			slog.String("id", id), slog.Any("error", err))
		h.respondWithError(w, r, "/api/parse-failures/{id}/resolve", http.StatusInternalServerError, errStorage)
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/api/parse-failures/{id}/resolve", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

// RecoverMiddleware converts a handler panic into a structured 500 instead
// of crashing the request handler.
func (h *Handler) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered in request handler",
					slog.String("path", r.URL.Path), slog.Any("panic", rec))
				respondWithJSON(w, http.StatusInternalServerError,
					domain.WebhookResponse{Status: "error", Error: errInternal})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// respondWebhook writes the webhook reply and logs the request with elapsed
// time: Info for processed/duplicate, Warn for client rejections, Error for
// server failures.
func (h *Handler) respondWebhook(w http.ResponseWriter, r *http.Request, code int, resp domain.WebhookResponse, start time.Time) {
	httpRequestsTotal.WithLabelValues("POST", "/api/webhook/sms", strconv.Itoa(code)).Inc()
	if resp.Status != "error" {
		ingestOutcomesTotal.WithLabelValues(resp.Status).Inc()
	} else {
		ingestOutcomesTotal.WithLabelValues(domain.StatusFailed).Inc()
	}

	attrs := []any{
		slog.String("webhook_id", resp.WebhookID),
		slog.String("status", resp.Status),
		slog.Int("code", code),
		slog.Duration("elapsed", time.Since(start)),
	}
	if resp.Error != "" {
		attrs = append(attrs, slog.String("error", resp.Error))
	}
	switch {
	case code >= 500:
		h.logger.Error("webhook processed", attrs...)
	case code >= 400:
		h.logger.Warn("webhook processed", attrs...)
	default:
		h.logger.Info("webhook processed", attrs...)
	}

	respondWithJSON(w, code, resp)
}

func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, endpoint string, code int, message string) {
	httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func transactionFilterFromQuery(r *http.Request) (domain.TransactionFilter, error) {
	// Default window: the last 30 days.
	now := time.Now().UTC()
	filter := domain.TransactionFilter{
		From: now.AddDate(0, 0, -30),
		To:   now.AddDate(0, 0, 1),
	}

	q := r.URL.Query()
	if fromStr := q.Get("from"); fromStr != "" {
		from, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return filter, errors.New("invalid from date")
		}
		filter.From = from
	}
	if toStr := q.Get("to"); toStr != "" {
		to, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return filter, errors.New("invalid to date")
		}
		// to is inclusive on the wire, half-open in the store.
		filter.To = to.AddDate(0, 0, 1)
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		filter.Limit, _ = strconv.Atoi(limitStr)
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		filter.Offset, _ = strconv.Atoi(offsetStr)
	}
	return filter, nil
}
