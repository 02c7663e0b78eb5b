package xrpl

import (
	"encoding/hex"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

const (
	// MemoVersion is the memo payload schema version.
	MemoVersion = 1
	// MemoType tags every witness memo so indexers can filter them.
	MemoType = "nexus.attest"
	// MaxMemoBytes caps the canonical memo payload size.
	MaxMemoBytes = 700
	// AmountDrops is the self-payment amount carried by witness transactions.
	AmountDrops = "1"
)

// AnchorPlan is the fully determined, unsigned shape of one witness
// transaction. Planning is pure: same intent and account, same plan.
type AnchorPlan struct {
	IntentDigest string         `json:"intent_digest"`
	MemoPayload  map[string]any `json:"memo_payload"`
	MemoDataHex  string         `json:"memo_data_hex"`
	MemoDigest   string         `json:"memo_digest"`
	Account      string         `json:"account"`
	AmountDrops  string         `json:"amount_drops"`
	Tx           map[string]any `json:"tx"`
}

// Plan builds the anchor plan for an intent. The memo carries the intent's
// identifying digests under short keys, never its labels. Sequence, Fee and
// SigningPubKey are submit-time concerns and stay out of the template.
func Plan(intent *contracts.AttestationIntent, account string) (*AnchorPlan, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if account == "" {
		return nil, contracts.Errf(contracts.CodeInvalidIntent, "plan requires a non-empty account")
	}
	digest, err := intent.Digest()
	if err != nil {
		return nil, err
	}

	memo := map[string]any{
		"v":  MemoVersion,
		"t":  MemoType,
		"id": canonical.DigestPrefix + digest,
		"st": intent.SubjectType,
		"bd": intent.BindingDigest,
	}
	if intent.PackageVersion != "" {
		memo["pv"] = intent.PackageVersion
	}
	if intent.RunID != "" {
		memo["rid"] = intent.RunID
	}
	if intent.Env != "" {
		memo["env"] = intent.Env
	}
	if intent.Tenant != "" {
		memo["ten"] = intent.Tenant
	}

	memoBytes, err := canonical.Marshal(memo)
	if err != nil {
		return nil, err
	}
	if len(memoBytes) > MaxMemoBytes {
		return nil, contracts.Errf(contracts.CodeInvalidIntent,
			"memo payload is %d bytes, limit %d", len(memoBytes), MaxMemoBytes)
	}

	memoDataHex := hex.EncodeToString(memoBytes)
	tx := map[string]any{
		"TransactionType": "Payment",
		"Account":         account,
		"Destination":     account,
		"Amount":          AmountDrops,
		"Memos": []any{
			map[string]any{
				"Memo": map[string]any{
					"MemoType": hex.EncodeToString([]byte(MemoType)),
					"MemoData": memoDataHex,
				},
			},
		},
	}

	return &AnchorPlan{
		IntentDigest: digest,
		MemoPayload:  memo,
		MemoDataHex:  memoDataHex,
		MemoDigest:   canonical.DigestPrefix + canonical.SHA256Hex(memoBytes),
		Account:      account,
		AmountDrops:  AmountDrops,
		Tx:           tx,
	}, nil
}
