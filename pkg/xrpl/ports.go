// Package xrpl turns attestation intents into on-ledger witnesses: a pure
// planner builds the memo-carrying transaction, impure submit/confirm calls
// talk to the ledger through narrow ports and produce receipts either way.
package xrpl

import "context"

// SubmitResult is the ledger's answer to a signed-transaction submission.
type SubmitResult struct {
	Accepted       bool   `json:"accepted"`
	TxHash         string `json:"tx_hash,omitempty"`
	EngineResult   string `json:"engine_result,omitempty"`
	Detail         string `json:"detail,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ExchangeDigest string `json:"exchange_digest,omitempty"`
}

// TxStatusResult describes a transaction's standing at query time.
type TxStatusResult struct {
	Found           bool   `json:"found"`
	Validated       bool   `json:"validated"`
	LedgerIndex     int64  `json:"ledger_index,omitempty"`
	EngineResult    string `json:"engine_result,omitempty"`
	LedgerCloseTime string `json:"ledger_close_time,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	ExchangeDigest  string `json:"exchange_digest,omitempty"`
}

// Client is the XRPL wire port. Errors are transport failures; ledger-level
// rejection comes back inside the result.
type Client interface {
	Submit(ctx context.Context, signedTxBlobHex string) (*SubmitResult, error)
	GetTx(ctx context.Context, txHash string) (*TxStatusResult, error)
}

// SignResult is the output of signing an unsigned transaction dict.
type SignResult struct {
	SignedTxBlobHex string `json:"signed_tx_blob_hex"`
	TxHash          string `json:"tx_hash"`
	KeyID           string `json:"key_id"`
}

// Signer signs transactions. KeyID is a public identifier safe for logs and
// receipts; key material never crosses this boundary.
type Signer interface {
	Account() string
	KeyID() string
	Sign(unsignedTx map[string]any) (*SignResult, error)
}
