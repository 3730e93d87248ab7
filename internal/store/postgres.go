package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/juancadavidc/bank-deposits/internal/domain"
)

const uniqueViolation = "23505"

// Store is the Postgres persistence gateway. The transactions table carries
// a unique index on delivery_id; that constraint, not application logic, is
// the final dedup guarantee under concurrent delivery.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// InsertTransaction writes one transaction row. A unique violation on
// delivery_id maps to domain.ErrDuplicateDelivery.
func (s *Store) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions
			(id, amount, currency, sender_name, account_number,
			 transaction_date, transaction_time, raw_message, parsed_at,
			 delivery_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.Amount, tx.Currency, tx.SenderName, tx.AccountNumber,
		tx.Date, tx.Time, tx.RawMessage, tx.ParsedAt, tx.DeliveryID, tx.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateDelivery
		}
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

// FindTransactionByDeliveryID returns domain.ErrNotFound when no row exists;
// any other error is a genuine storage failure.
func (s *Store) FindTransactionByDeliveryID(ctx context.Context, deliveryID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := s.db.QueryRow(ctx, `
		SELECT id, amount, currency, sender_name, account_number,
		       transaction_date, transaction_time, raw_message, parsed_at,
		       delivery_id, status
		FROM transactions WHERE delivery_id = $1`,
		deliveryID,
	).Scan(&tx.ID, &tx.Amount, &tx.Currency, &tx.SenderName, &tx.AccountNumber,
		&tx.Date, &tx.Time, &tx.RawMessage, &tx.ParsedAt, &tx.DeliveryID, &tx.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("transaction lookup failed: %w", err)
	}
	return &tx, nil
}

// ListTransactions returns transactions in [From, To), newest first.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, amount, currency, sender_name, account_number,
		       transaction_date, transaction_time, raw_message, parsed_at,
		       delivery_id, status
		FROM transactions
		WHERE transaction_date >= $1 AND transaction_date < $2
		ORDER BY transaction_date DESC, transaction_time DESC
		LIMIT $3 OFFSET $4`,
		filter.From, filter.To, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("transaction list failed: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.Currency, &tx.SenderName,
			&tx.AccountNumber, &tx.Date, &tx.Time, &tx.RawMessage, &tx.ParsedAt,
			&tx.DeliveryID, &tx.Status); err != nil {
			return nil, fmt.Errorf("transaction scan failed: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) InsertParseFailure(ctx context.Context, pf domain.ParseFailure) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO parse_failures
			(id, raw_message, failure_reason, delivery_id, occurred_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pf.ID, pf.RawMessage, pf.FailureReason, pf.DeliveryID, pf.OccurredAt, pf.Resolved,
	)
	if err != nil {
		return fmt.Errorf("parse failure insert failed: %w", err)
	}
	return nil
}

func (s *Store) ListParseFailures(ctx context.Context, filter domain.ParseFailureFilter) ([]domain.ParseFailure, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, raw_message, failure_reason, delivery_id, occurred_at, resolved
		FROM parse_failures`
	args := []any{}
	if filter.Resolved != nil {
		query += ` WHERE resolved = $1 ORDER BY occurred_at DESC LIMIT $2`
		args = append(args, *filter.Resolved, limit)
	} else {
		query += ` ORDER BY occurred_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("parse failure list failed: %w", err)
	}
	defer rows.Close()

	var failures []domain.ParseFailure
	for rows.Next() {
		var pf domain.ParseFailure
		if err := rows.Scan(&pf.ID, &pf.RawMessage, &pf.FailureReason,
			&pf.DeliveryID, &pf.OccurredAt, &pf.Resolved); err != nil {
			return nil, fmt.Errorf("parse failure scan failed: %w", err)
		}
		failures = append(failures, pf)
	}
	return failures, rows.Err()
}

// ResolveParseFailure marks one failure record handled by manual review.
func (s *Store) ResolveParseFailure(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE parse_failures SET resolved = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("parse failure resolve failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AggregateRange computes sum/count/average over [from, to). SUM and AVG
// come back as numeric text and are held exact in decimals.
func (s *Store) AggregateRange(ctx context.Context, from, to time.Time) (domain.Aggregate, error) {
	var sumText, avgText string
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text,
		       COUNT(*),
		       COALESCE(AVG(amount), 0)::text
		FROM transactions
		WHERE transaction_date >= $1 AND transaction_date < $2
		  AND status = $3`,
		from, to, domain.StatusProcessed,
	).Scan(&sumText, &count, &avgText)
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("aggregate query failed: %w", err)
	}

	sum, err := decimal.NewFromString(sumText)
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("aggregate sum parse failed: %w", err)
	}
	avg, err := decimal.NewFromString(avgText)
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("aggregate average parse failed: %w", err)
	}

	return domain.Aggregate{Sum: sum, Count: count, Average: avg}, nil
}
