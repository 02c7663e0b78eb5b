package contracts

import (
	"time"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
)

// ReceiptVersion is the current attestation receipt schema version.
const ReceiptVersion = "1"

// AttestationStatus is the lifecycle status of an attestation attempt or
// queued intent.
type AttestationStatus string

const (
	StatusPending   AttestationStatus = "PENDING"
	StatusSubmitted AttestationStatus = "SUBMITTED"
	StatusConfirmed AttestationStatus = "CONFIRMED"
	StatusDeferred  AttestationStatus = "DEFERRED"
	StatusFailed    AttestationStatus = "FAILED"
)

// Terminal reports whether s admits no further transitions.
func (s AttestationStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// ReceiptError carries the stable failure code for a failed attempt.
type ReceiptError struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// AttestationReceipt is an immutable record of one attestation attempt,
// success or failure. Once written it is never updated.
type AttestationReceipt struct {
	ReceiptVersion  string            `json:"receipt_version"`
	IntentDigest    string            `json:"intent_digest"`
	Backend         string            `json:"backend"`
	Attempt         int               `json:"attempt"`
	Status          AttestationStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	EvidenceDigests map[string]string `json:"evidence_digests,omitempty"`
	Proof           map[string]any    `json:"proof,omitempty"`
	Error           *ReceiptError     `json:"error,omitempty"`
	ReceiptDigest   string            `json:"receipt_digest"`
}

// Validate enforces receipt invariants before recording.
func (r *AttestationReceipt) Validate() error {
	if r.IntentDigest == "" {
		return Errf(CodeInvalidIntent, "receipt missing intent_digest")
	}
	if r.Attempt < 1 {
		return Errf(CodeInvalidIntent, "receipt attempt must be >= 1, got %d", r.Attempt)
	}
	switch r.Status {
	case StatusSubmitted, StatusConfirmed, StatusDeferred, StatusFailed:
	default:
		return Errf(CodeInvalidIntent, "invalid receipt status %q", r.Status)
	}
	if r.Status == StatusConfirmed && len(r.Proof) == 0 {
		return Errf(CodeInvalidIntent, "CONFIRMED receipt requires non-empty proof")
	}
	return nil
}

// ComputeDigest fills ReceiptDigest from the canonical encoding of every
// field except the digest itself, and returns it.
func (r *AttestationReceipt) ComputeDigest() (string, error) {
	m := map[string]any{
		"receipt_version": r.ReceiptVersion,
		"intent_digest":   r.IntentDigest,
		"backend":         r.Backend,
		"attempt":         r.Attempt,
		"status":          string(r.Status),
		"created_at":      r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if len(r.EvidenceDigests) > 0 {
		m["evidence_digests"] = r.EvidenceDigests
	}
	if len(r.Proof) > 0 {
		m["proof"] = r.Proof
	}
	if r.Error != nil {
		em := map[string]any{"code": r.Error.Code}
		if r.Error.Detail != "" {
			em["detail"] = r.Error.Detail
		}
		m["error"] = em
	}
	d, err := canonical.ContentDigest(m)
	if err != nil {
		return "", err
	}
	r.ReceiptDigest = canonical.DigestPrefix + d
	return r.ReceiptDigest, nil
}

// QueuedIntent is the queue-side projection of an intent's progress.
type QueuedIntent struct {
	QueueID       string             `json:"queue_id"`
	Intent        *AttestationIntent `json:"intent"`
	Status        AttestationStatus  `json:"status"`
	LastAttempt   int                `json:"last_attempt"`
	LastErrorCode string             `json:"last_error_code,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NextAttempt is the queue-owned attempt number for the next cycle.
func (q *QueuedIntent) NextAttempt() int {
	return q.LastAttempt + 1
}

// StatusSummary is the read-model answer to "where is this intent now".
type StatusSummary struct {
	QueueID       string            `json:"queue_id"`
	IntentDigest  string            `json:"intent_digest"`
	Status        AttestationStatus `json:"status"`
	LastAttempt   int               `json:"last_attempt"`
	LastErrorCode string            `json:"last_error_code,omitempty"`
	ReceiptCount  int               `json:"receipt_count"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
