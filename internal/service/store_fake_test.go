package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/juancadavidc/bank-deposits/internal/domain"
)

// fakeStore is an in-memory Store used by the service tests. Error fields,
// when set, override the happy path for the matching method.
type fakeStore struct {
	mu sync.Mutex

	transactions map[string]domain.Transaction // keyed by delivery id
	failures     []domain.ParseFailure

	findErr          error
	findErrOnce      bool
	insertErr        error
	parseFailureErr  error
	aggregateErr     error
	aggregateBlocks  bool
	aggregateCalls   int
	aggregateResult  domain.Aggregate
}

func newFakeStore() *fakeStore {
	return &fakeStore{transactions: make(map[string]domain.Transaction)}
}

func (f *fakeStore) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, exists := f.transactions[tx.DeliveryID]; exists {
		return domain.ErrDuplicateDelivery
	}
	f.transactions[tx.DeliveryID] = tx
	return nil
}

func (f *fakeStore) FindTransactionByDeliveryID(_ context.Context, deliveryID string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		err := f.findErr
		if f.findErrOnce {
			f.findErr = nil
		}
		return nil, err
	}
	tx, ok := f.transactions[deliveryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &tx, nil
}

func (f *fakeStore) ListTransactions(_ context.Context, _ domain.TransactionFilter) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Transaction, 0, len(f.transactions))
	for _, tx := range f.transactions {
		out = append(out, tx)
	}
	return out, nil
}

func (f *fakeStore) InsertParseFailure(_ context.Context, pf domain.ParseFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parseFailureErr != nil {
		return f.parseFailureErr
	}
	f.failures = append(f.failures, pf)
	return nil
}

func (f *fakeStore) ListParseFailures(_ context.Context, _ domain.ParseFailureFilter) ([]domain.ParseFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ParseFailure(nil), f.failures...), nil
}

func (f *fakeStore) ResolveParseFailure(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.failures {
		if f.failures[i].ID == id {
			f.failures[i].Resolved = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) AggregateRange(ctx context.Context, _, _ time.Time) (domain.Aggregate, error) {
	f.mu.Lock()
	f.aggregateCalls++
	blocks := f.aggregateBlocks
	err := f.aggregateErr
	result := f.aggregateResult
	f.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return domain.Aggregate{}, ctx.Err()
	}
	if err != nil {
		return domain.Aggregate{}, err
	}
	return result, nil
}

func aggregateOf(sum int64, count int64) domain.Aggregate {
	agg := domain.Aggregate{Sum: decimal.NewFromInt(sum), Count: count}
	if count > 0 {
		agg.Average = agg.Sum.DivRound(decimal.NewFromInt(count), 2)
	} else {
		agg.Average = decimal.Zero
	}
	return agg
}
