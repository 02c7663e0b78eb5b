package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/projection"
	"github.com/nexus-labs/nexus/core/pkg/store"
)

// Exporter renders decisions from the event store into portable bundles.
type Exporter struct {
	events *store.EventStore
	clock  func() time.Time
}

func NewExporter(events *store.EventStore) *Exporter {
	return &Exporter{events: events, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Export loads the decision by replay and renders it deterministically.
// Two exports of the same log differ only in meta.exported_at.
func (e *Exporter) Export(ctx context.Context, decisionID string) (*contracts.DecisionBundle, error) {
	events, err := e.events.GetEvents(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, contracts.Errf(contracts.CodeDecisionNotFound, "decision %s not found", decisionID)
	}
	d, err := projection.Replay(events)
	if err != nil {
		return nil, fmt.Errorf("replay for export: %w", err)
	}

	mode := string(d.RequestedMode)
	if mode == "" {
		mode = string(contracts.ModeDryRun)
	}
	b := &contracts.DecisionBundle{
		BundleVersion: contracts.BundleVersion,
		Decision: contracts.BundleDecision{
			DecisionID: decisionID,
			Goal:       d.Goal,
			Mode:       mode,
			CreatedAt:  events[0].Timestamp.UTC().Format(time.RFC3339Nano),
			Status:     string(d.State),
		},
	}

	b.Events = make([]contracts.BundleEvent, 0, len(events))
	for _, ev := range events {
		b.Events = append(b.Events, contracts.BundleEvent{
			EventID:    eventID(decisionID, ev.Seq, ev.Digest),
			DecisionID: decisionID,
			Seq:        ev.Seq,
			Type:       string(ev.Type),
			Payload:    ev.Payload,
			TS:         ev.Timestamp.UTC().Format(time.RFC3339Nano),
			Actor:      ev.Actor,
			Digest:     ev.Digest,
		})
	}

	if d.TemplateRef != nil {
		b.TemplateSnapshot = contracts.BundleTemplateSnapshot{
			Present:   true,
			Name:      d.TemplateRef.Name,
			Digest:    d.TemplateRef.Digest,
			Snapshot:  d.TemplateRef.Snapshot,
			Overrides: d.TemplateRef.OverridesApplied,
		}
	} else {
		b.TemplateSnapshot = contracts.BundleTemplateSnapshot{Present: false}
	}

	if ex := d.LatestExecution(); ex != nil {
		link := &contracts.BundleRouterLink{
			RunID:               ex.RunID,
			AdapterID:           ex.AdapterID,
			RouterRequestDigest: ex.RequestDigest,
			RouterResultDigest:  ex.ResponseDigest,
		}
		linkDigest, err := LinkDigest(decisionID, ex.RunID, ex.RequestDigest, ex.ResponseDigest)
		if err != nil {
			return nil, err
		}
		link.ControlRouterLinkDigest = canonical.DigestPrefix + linkDigest
		b.RouterLink = link
	}

	digest, err := ComputeDigest(b)
	if err != nil {
		return nil, err
	}
	b.Integrity = contracts.Integrity{Alg: "sha256", CanonicalDigest: digest}
	b.Provenance = contracts.Provenance{Records: []contracts.ProvenanceRecord{{
		ProvID:   provID(decisionID, digest),
		MethodID: "nexus.bundle.export",
		Inputs:   []string{decisionID},
		Outputs:  []string{digest},
	}}}
	b.Meta = contracts.BundleMeta{ExportedAt: e.clock().UTC().Format(time.RFC3339Nano)}
	return b, nil
}

// eventID is deterministic so repeated exports stay byte-identical.
func eventID(decisionID string, seq int64, digest string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", decisionID, seq, digest)))
	return "evt_" + hex.EncodeToString(h[:])[:12]
}

func provID(decisionID, digest string) string {
	h := sha256.Sum256([]byte(decisionID + ":" + digest))
	return "prov_" + hex.EncodeToString(h[:])[:12]
}
