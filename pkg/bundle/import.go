package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/projection"
	"github.com/nexus-labs/nexus/core/pkg/store"
)

// Conflict modes for importing a bundle whose decision id already exists.
const (
	ConflictReject        = "reject_on_conflict"
	ConflictNewDecisionID = "new_decision_id"
	ConflictOverwrite     = "overwrite"
)

// ImportOptions control verification and conflict behavior.
type ImportOptions struct {
	ConflictMode      string
	VerifyDigest      bool
	ReplayAfterImport bool
}

// DefaultImportOptions verify the digest, replay after import, and reject
// on conflict.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		ConflictMode:      ConflictReject,
		VerifyDigest:      true,
		ReplayAfterImport: true,
	}
}

// ImportResult reports what an import did.
type ImportResult struct {
	DecisionID     string `json:"decision_id"`
	EventsImported int    `json:"events_imported"`
	IDRemapped     bool   `json:"id_remapped"`
	Replayed       bool   `json:"replayed"`
}

// Importer validates and atomically ingests decision bundles.
type Importer struct {
	events *store.EventStore
	logger *slog.Logger
}

func NewImporter(events *store.EventStore) *Importer {
	return &Importer{events: events, logger: slog.Default().With("component", "bundle.import")}
}

// Import runs the fixed import pipeline: schema check, parse, conflict-mode
// validation, digest verification, seq validation, atomic insert, optional
// replay. Any failure leaves the store untouched.
func (im *Importer) Import(ctx context.Context, raw []byte, opts ImportOptions) (*ImportResult, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, contracts.Errf(contracts.CodeBundleInvalidSchema, "bundle is not valid JSON: %v", err)
	}
	if err := compiledBundleSchema.Validate(doc); err != nil {
		return nil, contracts.Errf(contracts.CodeBundleInvalidSchema, "bundle schema validation failed: %v", err)
	}

	var b contracts.DecisionBundle
	bdec := json.NewDecoder(bytes.NewReader(raw))
	bdec.UseNumber()
	if err := bdec.Decode(&b); err != nil {
		return nil, contracts.Errf(contracts.CodeBundleInvalidSchema, "bundle parse failed: %v", err)
	}

	switch opts.ConflictMode {
	case ConflictReject, ConflictNewDecisionID, ConflictOverwrite:
	default:
		return nil, contracts.Errf(contracts.CodeConflictModeInvalid, "unknown conflict mode %q", opts.ConflictMode)
	}

	// Digest verification must precede any store mutation.
	if opts.VerifyDigest {
		computed, err := ComputeDigest(&b)
		if err != nil {
			return nil, err
		}
		if computed != b.Integrity.CanonicalDigest {
			return nil, &contracts.CodedError{
				Code:    contracts.CodeIntegrityMismatch,
				Message: "bundle digest does not match canonical content",
				Details: map[string]any{"expected": b.Integrity.CanonicalDigest, "actual": computed},
			}
		}
	}

	targetID := b.Decision.DecisionID
	remapped := false
	existing, err := im.events.GetAggregate(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if existing != nil && opts.ConflictMode == ConflictNewDecisionID {
		// Mint a fresh id. Event payloads carry no redundant decision_id by
		// convention, so nothing inside them is rewritten.
		targetID = "dec_" + uuid.New().String()
		remapped = true
	}

	events := make([]contracts.StoredEvent, 0, len(b.Events))
	for i, be := range b.Events {
		if be.Seq != int64(i) {
			return nil, contracts.Errf(contracts.CodeBundleInvalidSchema,
				"event seq must start at 0 and increase by 1: index %d has seq %d", i, be.Seq)
		}
		ts, err := time.Parse(time.RFC3339Nano, be.TS)
		if err != nil {
			return nil, contracts.Errf(contracts.CodeBundleInvalidSchema, "event %d has bad timestamp %q", i, be.TS)
		}
		events = append(events, contracts.StoredEvent{
			AggregateID: targetID,
			Seq:         be.Seq,
			Type:        contracts.EventType(be.Type),
			Timestamp:   ts,
			Actor:       be.Actor,
			Payload:     be.Payload,
			Digest:      be.Digest,
		})
	}

	createdAt, err := time.Parse(time.RFC3339Nano, b.Decision.CreatedAt)
	if err != nil {
		return nil, contracts.Errf(contracts.CodeBundleInvalidSchema, "bad decision created_at %q", b.Decision.CreatedAt)
	}

	overwrite := opts.ConflictMode == ConflictOverwrite
	if err := im.events.ImportAtomic(ctx, targetID, createdAt, events, overwrite); err != nil {
		return nil, err
	}

	result := &ImportResult{
		DecisionID:     targetID,
		EventsImported: len(events),
		IDRemapped:     remapped,
	}

	if opts.ReplayAfterImport {
		stored, err := im.events.GetEvents(ctx, targetID)
		if err == nil {
			_, err = projection.Replay(stored)
		}
		if err != nil {
			// The imported log does not fold into a valid decision: roll back.
			if _, delErr := im.events.DeleteAggregate(ctx, targetID); delErr != nil {
				im.logger.ErrorContext(ctx, "rollback after replay failure", "decision_id", targetID, "error", delErr)
			}
			return nil, contracts.Errf(contracts.CodeReplayInvalid, "imported log failed replay: %v", err)
		}
		result.Replayed = true
	}

	im.logger.InfoContext(ctx, "bundle imported",
		"decision_id", targetID, "events", len(events), "remapped", remapped)
	return result, nil
}

// Render serializes a bundle for transport, preserving field order defined
// by the wire contract.
func Render(b *contracts.DecisionBundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("render bundle: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
