package service

import (
	"context"
	"time"

	"github.com/juancadavidc/bank-deposits/internal/domain"
)

// Store is the persistence gateway the services depend on. The Postgres
// implementation lives in internal/store; tests supply in-memory fakes.
//
// InsertTransaction must enforce delivery-id uniqueness at the storage layer
// and return domain.ErrDuplicateDelivery on violation; that constraint is
// the authoritative dedup backstop under concurrent delivery.
// FindTransactionByDeliveryID returns domain.ErrNotFound when absent; any
// other error is a genuine storage failure and must not be read as "no
// duplicate".
type Store interface {
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	FindTransactionByDeliveryID(ctx context.Context, deliveryID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	InsertParseFailure(ctx context.Context, pf domain.ParseFailure) error
	ListParseFailures(ctx context.Context, filter domain.ParseFailureFilter) ([]domain.ParseFailure, error)
	ResolveParseFailure(ctx context.Context, id string) error
	AggregateRange(ctx context.Context, from, to time.Time) (domain.Aggregate, error)
}
