package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/juancadavidc/bank-deposits/internal/domain"
	"github.com/juancadavidc/bank-deposits/internal/parser"
)

// Duplicate detection paths, reported in the outcome so operators can tell
// a lookup-detected replay from one caught by the uniqueness constraint.
const (
	DuplicatePathLookup     = "lookup"
	DuplicatePathConstraint = "constraint"
)

// Outcome is the terminal result of one delivery.
type Outcome struct {
	Status        string
	Transaction   *domain.Transaction
	DuplicatePath string
}

// IngestService runs the ingestion pipeline for one validated envelope:
// duplicate check, parse, persist. It is stateless per request; concurrent
// deliveries with the same id are resolved by the store's uniqueness
// constraint, not by in-process locking.
type IngestService struct {
	store   Store
	metrics *MetricsService
	logger  *slog.Logger
}

func NewIngestService(store Store, metrics *MetricsService, logger *slog.Logger) *IngestService {
	return &IngestService{store: store, metrics: metrics, logger: logger}
}

// Process takes a validated envelope to its terminal outcome. Errors are
// either *domain.ParseError or storage failures; duplicates are a success,
// never an error.
func (s *IngestService) Process(ctx context.Context, env domain.Envelope) (*Outcome, error) {
	// Fast path: a replayed delivery id short-circuits before parsing. The
	// lookup is an optimization only; the insert below is the backstop.
	existing, err := s.store.FindTransactionByDeliveryID(ctx, env.WebhookID)
	if err == nil {
		return &Outcome{
			Status:        domain.StatusDuplicate,
			Transaction:   existing,
			DuplicatePath: DuplicatePathLookup,
		}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("duplicate lookup failed: %w", err)
	}

	fact := parser.Parse(env.Message)
	if !fact.Success {
		s.recordParseFailure(ctx, env, fact.FailureReason)
		return nil, &domain.ParseError{Reason: fact.FailureReason}
	}

	tx := domain.Transaction{
		ID:            uuid.NewString(),
		Amount:        fact.Amount,
		Currency:      domain.Currency,
		SenderName:    fact.SenderName,
		AccountNumber: fact.AccountSuffix,
		Date:          fact.OccurredOn,
		Time:          fact.OccurredAt,
		RawMessage:    env.Message,
		ParsedAt:      time.Now().UTC(),
		DeliveryID:    env.WebhookID,
		Status:        domain.StatusProcessed,
	}

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrDuplicateDelivery) {
			// Lost the race against a concurrent delivery of the same id.
			// The winner's row is the record; echo it as a duplicate.
			winner, findErr := s.store.FindTransactionByDeliveryID(ctx, env.WebhookID)
			if findErr != nil {
				return nil, fmt.Errorf("fetch after uniqueness conflict failed: %w", findErr)
			}
			return &Outcome{
				Status:        domain.StatusDuplicate,
				Transaction:   winner,
				DuplicatePath: DuplicatePathConstraint,
			}, nil
		}
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.InvalidatePeriods(tx.Date)
	}

	return &Outcome{Status: domain.StatusProcessed, Transaction: &tx}, nil
}

// recordParseFailure persists the failure for manual review. Best-effort: a
// write failure here is logged and does not change the response.
func (s *IngestService) recordParseFailure(ctx context.Context, env domain.Envelope, reason domain.FailureReason) {
	pf := domain.ParseFailure{
		ID:            uuid.NewString(),
		RawMessage:    env.Message,
		FailureReason: reason,
		DeliveryID:    env.WebhookID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.store.InsertParseFailure(ctx, pf); err != nil {
		s.logger.Error("failed to persist parse failure record",
			slog.String("webhook_id", env.WebhookID),
			slog.String("reason", string(reason)),
			slog.Any("error", err))
	}
}
