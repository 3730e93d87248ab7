package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juancadavidc/bank-deposits/internal/cache"
	"github.com/juancadavidc/bank-deposits/internal/domain"
)

// Aggregation periods exposed to the dashboard layer.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// ErrUnknownPeriod rejects period values outside the fixed set.
var ErrUnknownPeriod = errors.New("unknown aggregation period")

// MetricsService serves period aggregates for dashboards. This is the only
// consumer of the cache: ingestion correctness never depends on it. Reads
// run under a fixed timeout; on timeout the last cached value is served
// rather than a partial or zero aggregate.
type MetricsService struct {
	store        Store
	cache        *cache.Cache
	queryTimeout time.Duration
	logger       *slog.Logger
}

func NewMetricsService(store Store, c *cache.Cache, queryTimeout time.Duration, logger *slog.Logger) *MetricsService {
	return &MetricsService{store: store, cache: c, queryTimeout: queryTimeout, logger: logger}
}

// PeriodSummary returns the sum/count/average of transactions in the
// daily/weekly/monthly bucket containing anchor.
func (m *MetricsService) PeriodSummary(ctx context.Context, period string, anchor time.Time) (domain.Aggregate, error) {
	from, to, key, err := periodRange(period, anchor)
	if err != nil {
		return domain.Aggregate{}, err
	}

	if v, ok := m.cache.Get(key); ok {
		if agg, isAgg := v.(domain.Aggregate); isAgg {
			return agg, nil
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	agg, err := m.store.AggregateRange(queryCtx, from, to)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if v, ok := m.cache.Get(staleKey(key)); ok {
				if lastGood, isAgg := v.(domain.Aggregate); isAgg {
					m.logger.Warn("aggregate query timed out, serving last cached value",
						slog.String("key", key))
					return lastGood, nil
				}
			}
		}
		return domain.Aggregate{}, fmt.Errorf("aggregate query failed: %w", err)
	}

	m.cache.Set(key, agg, 0)
	m.cache.SetForever(staleKey(key), agg)
	return agg, nil
}

// InvalidatePeriods evicts the daily, weekly, and monthly aggregates that
// cover date, so reads after a new transaction recompute instead of serving
// stale sums. Fallback copies are kept; they exist for timeout degradation.
func (m *MetricsService) InvalidatePeriods(date time.Time) {
	for _, period := range []string{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		if _, _, key, err := periodRange(period, date); err == nil {
			m.cache.Delete(key)
		}
	}
}

func staleKey(key string) string {
	return "stale:" + key
}

// periodRange maps a period and anchor date to its half-open [from, to)
// range and cache key.
func periodRange(period string, anchor time.Time) (time.Time, time.Time, string, error) {
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)

	switch period {
	case PeriodDaily:
		return day, day.AddDate(0, 0, 1), "agg:daily:" + day.Format("2006-01-02"), nil
	case PeriodWeekly:
		// ISO week, Monday start.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		year, week := start.ISOWeek()
		key := fmt.Sprintf("agg:weekly:%d-W%02d", year, week)
		return start, start.AddDate(0, 0, 7), key, nil
	case PeriodMonthly:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), "agg:monthly:" + start.Format("2006-01"), nil
	default:
		return time.Time{}, time.Time{}, "", fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}
