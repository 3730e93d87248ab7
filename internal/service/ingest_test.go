package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juancadavidc/bank-deposits/internal/cache"
	"github.com/juancadavidc/bank-deposits/internal/domain"
)

const validMessage = "Bancolombia: Recibiste una transferencia por $190,000 de MARIA CUBAQUE en tu cuenta **7251 el 04/09/2025 a las 08:06."

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newIngestService(store Store) *IngestService {
	return NewIngestService(store, nil, discardLogger())
}

func envelope(deliveryID string) domain.Envelope {
	return domain.Envelope{
		Message:   validMessage,
		Timestamp: "2025-09-04T08:06:00Z",
		Phone:     "+573001234567",
		WebhookID: deliveryID,
	}
}

func TestProcessNewDelivery(t *testing.T) {
	store := newFakeStore()
	svc := newIngestService(store)

	outcome, err := svc.Process(context.Background(), envelope("wh-1"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProcessed, outcome.Status)
	assert.Empty(t, outcome.DuplicatePath)
	require.NotNil(t, outcome.Transaction)

	tx := outcome.Transaction
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, int64(190000), tx.Amount)
	assert.Equal(t, domain.Currency, tx.Currency)
	assert.Equal(t, "MARIA CUBAQUE", tx.SenderName)
	assert.Equal(t, "**7251", tx.AccountNumber)
	assert.Equal(t, time.Date(2025, time.September, 4, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, "08:06", tx.Time)
	assert.Equal(t, validMessage, tx.RawMessage)
	assert.Equal(t, "wh-1", tx.DeliveryID)
	assert.Equal(t, domain.StatusProcessed, tx.Status)
	assert.Len(t, store.transactions, 1)
}

func TestProcessIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newIngestService(store)

	first, err := svc.Process(context.Background(), envelope("wh-dup"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessed, first.Status)

	for i := 0; i < 3; i++ {
		replay, err := svc.Process(context.Background(), envelope("wh-dup"))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDuplicate, replay.Status)
		assert.Equal(t, DuplicatePathLookup, replay.DuplicatePath)
		assert.Equal(t, first.Transaction.ID, replay.Transaction.ID)
	}
	assert.Len(t, store.transactions, 1)
}

func TestProcessUniquenessRaceCollapsesToDuplicate(t *testing.T) {
	// The lookup misses but the insert hits the constraint, as happens when
	// two deliveries of the same id race. The loser must re-fetch the
	// winner's row and report a duplicate, not an error.
	store := newFakeStore()
	winner := domain.Transaction{ID: "winner-id", DeliveryID: "wh-race", Status: domain.StatusProcessed}
	store.transactions["wh-race"] = winner
	// Force a miss on the first lookup only; the post-conflict fetch sees
	// the winner's row.
	store.findErr = domain.ErrNotFound
	store.findErrOnce = true
	svc := newIngestService(store)

	outcome, err := svc.Process(context.Background(), envelope("wh-race"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDuplicate, outcome.Status)
	assert.Equal(t, DuplicatePathConstraint, outcome.DuplicatePath)
	assert.Equal(t, "winner-id", outcome.Transaction.ID)
}

func TestProcessLookupFailureIsNotTreatedAsAbsent(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")
	svc := newIngestService(store)

	_, err := svc.Process(context.Background(), envelope("wh-err"))
	require.Error(t, err)
	var parseErr *domain.ParseError
	assert.False(t, errors.As(err, &parseErr))
	assert.Empty(t, store.transactions)
}

func TestProcessParseFailureRecordsAndReturnsReason(t *testing.T) {
	store := newFakeStore()
	svc := newIngestService(store)

	env := envelope("wh-bad")
	env.Message = "Your OTP code is 123456"

	_, err := svc.Process(context.Background(), env)
	require.Error(t, err)

	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, domain.ReasonPatternMismatch, parseErr.Reason)

	require.Len(t, store.failures, 1)
	pf := store.failures[0]
	assert.Equal(t, "Your OTP code is 123456", pf.RawMessage)
	assert.Equal(t, domain.ReasonPatternMismatch, pf.FailureReason)
	assert.Equal(t, "wh-bad", pf.DeliveryID)
	assert.False(t, pf.Resolved)
	assert.Empty(t, store.transactions)
}

func TestProcessParseFailureRecordIsBestEffort(t *testing.T) {
	store := newFakeStore()
	store.parseFailureErr = errors.New("disk full")
	svc := newIngestService(store)

	env := envelope("wh-bad")
	env.Message = "not a transfer"

	_, err := svc.Process(context.Background(), env)
	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, domain.ReasonPatternMismatch, parseErr.Reason)
}

func TestProcessInsertFailureSurfacesStorageError(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection reset")
	svc := newIngestService(store)

	_, err := svc.Process(context.Background(), envelope("wh-1"))
	require.Error(t, err)
	var parseErr *domain.ParseError
	assert.False(t, errors.As(err, &parseErr))
}

func TestProcessInvalidatesPeriodAggregates(t *testing.T) {
	store := newFakeStore()
	c := cache.New(time.Minute)
	defer c.Stop()
	metrics := NewMetricsService(store, c, time.Second, discardLogger())
	svc := NewIngestService(store, metrics, discardLogger())

	c.Set("agg:daily:2025-09-04", aggregateOf(100, 1), 0)
	c.Set("agg:weekly:2025-W36", aggregateOf(100, 1), 0)
	c.Set("agg:monthly:2025-09", aggregateOf(100, 1), 0)
	c.Set("agg:daily:2025-09-05", aggregateOf(100, 1), 0)

	_, err := svc.Process(context.Background(), envelope("wh-1"))
	require.NoError(t, err)

	assert.False(t, c.Has("agg:daily:2025-09-04"))
	assert.False(t, c.Has("agg:weekly:2025-W36"))
	assert.False(t, c.Has("agg:monthly:2025-09"))
	// An unrelated day's aggregate stays put.
	assert.True(t, c.Has("agg:daily:2025-09-05"))
}

func TestConcurrentReplaysCreateOneRow(t *testing.T) {
	store := newFakeStore()
	svc := newIngestService(store)

	const n = 8
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			outcome, err := svc.Process(context.Background(), envelope("wh-concurrent"))
			if err != nil {
				results <- fmt.Sprintf("error: %v", err)
				return
			}
			results <- outcome.Status
		}()
	}

	statuses := map[string]int{}
	for i := 0; i < n; i++ {
		statuses[<-results]++
	}

	assert.Len(t, store.transactions, 1)
	assert.Equal(t, 1, statuses[domain.StatusProcessed])
	assert.Equal(t, n-1, statuses[domain.StatusDuplicate])
}
