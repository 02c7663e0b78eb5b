package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
)

// ExchangeRecord is wire-level evidence of one request/response pair at an
// external boundary. The content digest excludes the timestamp so the same
// exchange content addresses identically across time.
type ExchangeRecord struct {
	ContentDigest  string    `json:"content_digest"`
	RequestDigest  string    `json:"request_digest"`
	ResponseDigest string    `json:"response_digest"`
	Timestamp      time.Time `json:"timestamp"`
}

// ExchangeContentDigest computes the content digest over the request and
// response digests only.
func ExchangeContentDigest(requestDigest, responseDigest string) (string, error) {
	return canonical.ContentDigest(map[string]any{
		"request_digest":  requestDigest,
		"response_digest": responseDigest,
	})
}

// ExchangeStore indexes exchange records by content digest.
type ExchangeStore struct {
	store *Store
	clock func() time.Time
}

func NewExchangeStore(s *Store) *ExchangeStore {
	return &ExchangeStore{store: s, clock: time.Now}
}

// Record inserts an exchange record, computing its content digest.
// Re-recording the same content is a no-op; the record is returned either way.
func (xs *ExchangeStore) Record(ctx context.Context, requestDigest, responseDigest string, at time.Time) (*ExchangeRecord, error) {
	content, err := ExchangeContentDigest(requestDigest, responseDigest)
	if err != nil {
		return nil, err
	}
	rec := &ExchangeRecord{
		ContentDigest:  content,
		RequestDigest:  requestDigest,
		ResponseDigest: responseDigest,
		Timestamp:      at.UTC(),
	}
	_, err = xs.store.db.ExecContext(ctx, xs.store.q(
		`INSERT INTO dcl_exchanges (content_digest, request_digest, response_digest, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		content, requestDigest, responseDigest, formatTime(rec.Timestamp), formatTime(xs.clock()))
	if err != nil {
		if isUniqueViolation(err) {
			return rec, nil
		}
		return nil, fmt.Errorf("record exchange: %w", err)
	}
	return rec, nil
}

// Get fetches an exchange record by content digest, nil if absent.
func (xs *ExchangeStore) Get(ctx context.Context, contentDigest string) (*ExchangeRecord, error) {
	row := xs.store.db.QueryRowContext(ctx, xs.store.q(
		`SELECT content_digest, request_digest, response_digest, timestamp
		 FROM dcl_exchanges WHERE content_digest = ?`), contentDigest)
	var cd, rq, rs, ts string
	if err := row.Scan(&cd, &rq, &rs, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get exchange: %w", err)
	}
	return &ExchangeRecord{
		ContentDigest:  cd,
		RequestDigest:  rq,
		ResponseDigest: rs,
		Timestamp:      parseTime(ts),
	}, nil
}
