package xrpl

import (
	"context"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// Backend is the backend name stamped on every receipt from this pipeline.
const Backend = "xrpl"

// Submit signs and submits a planned witness transaction, turning every
// outcome — signer failure, transport failure, ledger rejection, acceptance —
// into a receipt. The returned error only reports receipt construction
// problems, never ledger ones.
func Submit(ctx context.Context, plan *AnchorPlan, client Client, signer Signer, attempt int, createdAt time.Time) (*contracts.AttestationReceipt, error) {
	base := func(status contracts.AttestationStatus) *contracts.AttestationReceipt {
		return &contracts.AttestationReceipt{
			ReceiptVersion:  contracts.ReceiptVersion,
			IntentDigest:    plan.IntentDigest,
			Backend:         Backend,
			Attempt:         attempt,
			Status:          status,
			CreatedAt:       createdAt.UTC(),
			EvidenceDigests: map[string]string{"memo_digest": plan.MemoDigest},
		}
	}

	signed, err := signer.Sign(plan.Tx)
	if err != nil {
		r := base(contracts.StatusFailed)
		r.Error = &contracts.ReceiptError{Code: contracts.CodeRejected, Detail: err.Error()}
		return sealed(r)
	}

	result, err := client.Submit(ctx, signed.SignedTxBlobHex)
	if err != nil {
		r := base(contracts.StatusFailed)
		r.Error = &contracts.ReceiptError{Code: contracts.CodeBackendUnavailable, Detail: err.Error()}
		return sealed(r)
	}
	if result.Accepted {
		r := base(contracts.StatusSubmitted)
		txHash := result.TxHash
		if txHash == "" {
			txHash = signed.TxHash
		}
		r.Proof = map[string]any{
			"tx_hash":       txHash,
			"engine_result": result.EngineResult,
			"key_id":        signed.KeyID,
		}
		if result.ExchangeDigest != "" {
			r.EvidenceDigests["xrpl.submit.exchange"] = result.ExchangeDigest
		}
		return sealed(r)
	}

	r := base(contracts.StatusFailed)
	detail := result.EngineResult
	if result.Detail != "" {
		detail += ": " + result.Detail
	}
	r.Error = &contracts.ReceiptError{
		Code:   ClassifyEngineResult(result.EngineResult),
		Detail: detail,
	}
	if result.ExchangeDigest != "" {
		r.EvidenceDigests["xrpl.submit.exchange"] = result.ExchangeDigest
	}
	return sealed(r)
}

// Confirm checks whether a previously submitted transaction has validated.
// An absent or not-yet-validated transaction is DEFERRED, not an error: the
// next cycle asks again.
func Confirm(ctx context.Context, intentDigest, txHash string, client Client, attempt int, memoDigest string, createdAt time.Time) (*contracts.AttestationReceipt, error) {
	base := func(status contracts.AttestationStatus) *contracts.AttestationReceipt {
		return &contracts.AttestationReceipt{
			ReceiptVersion:  contracts.ReceiptVersion,
			IntentDigest:    intentDigest,
			Backend:         Backend,
			Attempt:         attempt,
			Status:          status,
			CreatedAt:       createdAt.UTC(),
			EvidenceDigests: map[string]string{"memo_digest": memoDigest},
		}
	}

	status, err := client.GetTx(ctx, txHash)
	if err != nil {
		r := base(contracts.StatusFailed)
		r.Error = &contracts.ReceiptError{Code: contracts.CodeBackendUnavailable, Detail: err.Error()}
		return sealed(r)
	}

	var r *contracts.AttestationReceipt
	switch {
	case status.Validated:
		r = base(contracts.StatusConfirmed)
		r.Proof = map[string]any{
			"tx_hash":           txHash,
			"ledger_index":      status.LedgerIndex,
			"engine_result":     status.EngineResult,
			"ledger_close_time": status.LedgerCloseTime,
		}
	default:
		// found-but-unvalidated and not-found both wait for the next cycle
		r = base(contracts.StatusDeferred)
	}
	if status.ExchangeDigest != "" {
		r.EvidenceDigests["xrpl.tx.exchange"] = status.ExchangeDigest
	}
	return sealed(r)
}

func sealed(r *contracts.AttestationReceipt) (*contracts.AttestationReceipt, error) {
	if _, err := r.ComputeDigest(); err != nil {
		return nil, err
	}
	return r, nil
}
