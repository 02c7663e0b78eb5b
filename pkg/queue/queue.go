// Package queue is the durable attestation intent ledger: a crash-safe
// queue driving at-most-once submission plus an append-only receipt log
// that is itself evidence. Retry scheduling lives outside; the queue only
// exposes eligibility.
package queue

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/store"
)

// Queue persists attestation intents and their receipts.
type Queue struct {
	store  *store.Store
	clock  func() time.Time
	logger *slog.Logger
}

// New builds a Queue over an opened store.
func New(s *store.Store) *Queue {
	return &Queue{
		store:  s,
		clock:  time.Now,
		logger: slog.Default().With("component", "attestation.queue"),
	}
}

// WithClock overrides the clock for testing.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

// Enqueue registers an intent for witnessing. Idempotent: re-enqueueing an
// intent with the same digest returns the existing queue id untouched.
func (q *Queue) Enqueue(ctx context.Context, intent *contracts.AttestationIntent) (string, error) {
	if err := intent.Validate(); err != nil {
		return "", err
	}
	digest, err := intent.Digest()
	if err != nil {
		return "", err
	}
	queueID := "sha256:" + digest

	intentJSON, err := json.Marshal(intent)
	if err != nil {
		return "", fmt.Errorf("marshal intent: %w", err)
	}
	now := q.clock().UTC().Format(time.RFC3339Nano)
	_, err = q.store.DB().ExecContext(ctx, q.store.Q(
		`INSERT INTO attestation_intents
			(queue_id, intent_digest, intent_json, created_at, status, last_attempt, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT (queue_id) DO NOTHING`),
		queueID, digest, string(intentJSON), now, string(contracts.StatusPending), now)
	if err != nil {
		return "", fmt.Errorf("enqueue intent: %w", err)
	}
	return queueID, nil
}

// NextPending returns eligible intents (PENDING or DEFERRED) in a
// deterministic order, so independent processes converge on the same pick.
func (q *Queue) NextPending(ctx context.Context, limit int) ([]*contracts.QueuedIntent, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := q.store.DB().QueryContext(ctx, q.store.Q(
		`SELECT queue_id, intent_digest, intent_json, created_at, status, last_attempt, last_error_code, updated_at
		 FROM attestation_intents
		 WHERE status IN ('PENDING', 'DEFERRED')
		 ORDER BY created_at ASC, intent_digest ASC
		 LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("next pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.QueuedIntent
	for rows.Next() {
		qi, err := scanQueuedIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, qi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordReceipt appends a receipt and moves the intent's status in one
// transaction. A duplicate receipt digest is a no-op returning false.
func (q *Queue) RecordReceipt(ctx context.Context, r *contracts.AttestationReceipt) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	if r.ReceiptDigest == "" {
		if _, err := r.ComputeDigest(); err != nil {
			return false, err
		}
	}
	receiptJSON, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("marshal receipt: %w", err)
	}

	tx, err := q.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, q.store.Q(
		`INSERT INTO attestation_receipts
			(receipt_digest, intent_digest, attempt, created_at, backend, status, receipt_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (receipt_digest) DO NOTHING`),
		r.ReceiptDigest, r.IntentDigest, r.Attempt,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.Backend, string(r.Status), string(receiptJSON))
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	inserted, _ := res.RowsAffected()

	errorCode := sql.NullString{}
	if r.Error != nil {
		errorCode = sql.NullString{String: r.Error.Code, Valid: true}
	}
	// The status update applies even on duplicate insert so a replayed
	// record converges; last writer wins.
	if _, err := tx.ExecContext(ctx, q.store.Q(
		`UPDATE attestation_intents
		 SET status = ?, last_attempt = ?, last_error_code = ?, updated_at = ?
		 WHERE intent_digest = ?`),
		string(r.Status), r.Attempt, errorCode,
		q.clock().UTC().Format(time.RFC3339Nano), r.IntentDigest); err != nil {
		return false, fmt.Errorf("update intent status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit record: %w", err)
	}

	q.logger.InfoContext(ctx, "receipt recorded",
		"intent_digest", r.IntentDigest, "attempt", r.Attempt, "status", r.Status, "new", inserted > 0)
	return inserted > 0, nil
}

// Replay returns every receipt for an intent ordered by (attempt,
// created_at) — the full evidence trail of the attestation.
func (q *Queue) Replay(ctx context.Context, intentDigest string) ([]*contracts.AttestationReceipt, error) {
	rows, err := q.store.DB().QueryContext(ctx, q.store.Q(
		`SELECT receipt_json FROM attestation_receipts
		 WHERE intent_digest = ?
		 ORDER BY attempt ASC, created_at ASC`), intentDigest)
	if err != nil {
		return nil, fmt.Errorf("replay receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AttestationReceipt
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r contracts.AttestationReceipt
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("corrupt receipt JSON: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStatus summarizes one queued intent, nil if unknown.
func (q *Queue) GetStatus(ctx context.Context, queueID string) (*contracts.StatusSummary, error) {
	row := q.store.DB().QueryRowContext(ctx, q.store.Q(
		`SELECT queue_id, intent_digest, status, last_attempt, last_error_code, updated_at
		 FROM attestation_intents WHERE queue_id = ?`), queueID)
	var (
		qid, digest, status, updated string
		lastAttempt                  int
		lastError                    sql.NullString
	)
	if err := row.Scan(&qid, &digest, &status, &lastAttempt, &lastError, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get status: %w", err)
	}

	var count int
	row = q.store.DB().QueryRowContext(ctx, q.store.Q(
		`SELECT COUNT(1) FROM attestation_receipts WHERE intent_digest = ?`), digest)
	if err := row.Scan(&count); err != nil {
		return nil, fmt.Errorf("count receipts: %w", err)
	}

	return &contracts.StatusSummary{
		QueueID:       qid,
		IntentDigest:  digest,
		Status:        contracts.AttestationStatus(status),
		LastAttempt:   lastAttempt,
		LastErrorCode: lastError.String,
		ReceiptCount:  count,
		UpdatedAt:     parseRFC3339(updated),
	}, nil
}

func scanQueuedIntent(rows *sql.Rows) (*contracts.QueuedIntent, error) {
	var (
		queueID, digest, intentJSON, created, status, updated string
		lastAttempt                                           int
		lastError                                             sql.NullString
	)
	if err := rows.Scan(&queueID, &digest, &intentJSON, &created, &status, &lastAttempt, &lastError, &updated); err != nil {
		return nil, fmt.Errorf("scan queued intent: %w", err)
	}
	var intent contracts.AttestationIntent
	if err := json.Unmarshal([]byte(intentJSON), &intent); err != nil {
		return nil, fmt.Errorf("corrupt intent JSON for %s: %w", queueID, err)
	}
	return &contracts.QueuedIntent{
		QueueID:       queueID,
		Intent:        &intent,
		Status:        contracts.AttestationStatus(status),
		LastAttempt:   lastAttempt,
		LastErrorCode: lastError.String,
		CreatedAt:     parseRFC3339(created),
		UpdatedAt:     parseRFC3339(updated),
	}, nil
}

func parseRFC3339(v string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	return time.Time{}
}
