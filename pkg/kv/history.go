package kv

import (
	"context"
	"fmt"
	"strconv"
)

const (
	runHistoryKey    = "analytics:runs"
	dailyCountPrefix = "analytics:daily:"
)

// PushRunRecord prepends a serialized run record to the history list and
// trims the list to max entries.
func (s *Store) PushRunRecord(ctx context.Context, record []byte, max int) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, runHistoryKey, record)
	pipe.LTrim(ctx, runHistoryKey, 0, int64(max)-1)
	_, err := pipe.Exec(ctx)
	return err
}

// ListRunRecords returns up to limit run records, newest first.
func (s *Store) ListRunRecords(ctx context.Context, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = 50
	}
	values, err := s.client.LRange(ctx, runHistoryKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

// IncrDailyCount bumps a source's indexed-document counter for a day
// (YYYY-MM-DD).
func (s *Store) IncrDailyCount(ctx context.Context, day, field string, n int) error {
	return s.client.HIncrBy(ctx, dailyCountPrefix+day, field, int64(n)).Err()
}

// DailyCounts returns every counter recorded for a day.
func (s *Store) DailyCounts(ctx context.Context, day string) (map[string]int64, error) {
	values, err := s.client.HGetAll(ctx, dailyCountPrefix+day).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(values))
	for field, raw := range values {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt daily count %s/%s: %w", day, field, err)
		}
		out[field] = n
	}
	return out, nil
}
