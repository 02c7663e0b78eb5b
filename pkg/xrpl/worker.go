package xrpl

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/queue"
)

// Worker drives one attestation cycle at a time: pull an eligible intent,
// plan, submit, and — when the ledger accepted — confirm. No loops and no
// backoff live here; the orchestrator owns cadence.
type Worker struct {
	queue  *queue.Queue
	client Client
	signer Signer
	clock  func() time.Time
	logger *slog.Logger
}

func NewWorker(q *queue.Queue, client Client, signer Signer) *Worker {
	return &Worker{
		queue:  q,
		client: client,
		signer: signer,
		clock:  time.Now,
		logger: slog.Default().With("component", "xrpl.worker"),
	}
}

// WithClock overrides the clock for testing.
func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// ProcessOne runs a single cycle and returns the receipts it produced, at
// most two (submit then confirm). An empty queue returns nil, nil.
func (w *Worker) ProcessOne(ctx context.Context) ([]*contracts.AttestationReceipt, error) {
	pending, err := w.queue.NextPending(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	queued := pending[0]
	attempt := queued.NextAttempt()
	w.logger.InfoContext(ctx, "processing intent",
		"queue_id", queued.QueueID, "attempt", attempt, "status", queued.Status)

	plan, err := Plan(queued.Intent, w.signer.Account())
	if err != nil {
		// Planning failures are intent defects; witness the rejection so the
		// intent leaves the eligible set instead of looping forever.
		r := &contracts.AttestationReceipt{
			ReceiptVersion: contracts.ReceiptVersion,
			IntentDigest:   strings.TrimPrefix(queued.QueueID, "sha256:"),
			Backend:        Backend,
			Attempt:        attempt,
			Status:         contracts.StatusFailed,
			CreatedAt:      w.clock().UTC(),
			Error:          &contracts.ReceiptError{Code: contracts.CodeRejected, Detail: err.Error()},
		}
		if _, err := r.ComputeDigest(); err != nil {
			return nil, err
		}
		if _, err := w.queue.RecordReceipt(ctx, r); err != nil {
			return nil, err
		}
		return []*contracts.AttestationReceipt{r}, nil
	}

	submitReceipt, err := Submit(ctx, plan, w.client, w.signer, attempt, w.clock())
	if err != nil {
		return nil, err
	}
	if _, err := w.queue.RecordReceipt(ctx, submitReceipt); err != nil {
		return nil, err
	}
	receipts := []*contracts.AttestationReceipt{submitReceipt}
	if submitReceipt.Status != contracts.StatusSubmitted {
		return receipts, nil
	}

	txHash, _ := submitReceipt.Proof["tx_hash"].(string)
	confirmReceipt, err := Confirm(ctx, plan.IntentDigest, txHash, w.client, attempt, plan.MemoDigest, w.clock())
	if err != nil {
		return nil, err
	}
	if _, err := w.queue.RecordReceipt(ctx, confirmReceipt); err != nil {
		return nil, err
	}
	return append(receipts, confirmReceipt), nil
}
