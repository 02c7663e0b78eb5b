// Package bundle renders decisions to portable, deterministic bundles and
// imports them back with integrity verification.
package bundle

import (
	"github.com/nexus-labs/nexus/core/pkg/canonical"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// digestInput is the exact digest surface of a bundle: integrity,
// provenance and meta stay outside so re-exports digest identically.
type digestInput struct {
	BundleVersion    string                           `json:"bundle_version"`
	Decision         contracts.BundleDecision         `json:"decision"`
	Events           []contracts.BundleEvent          `json:"events"`
	TemplateSnapshot contracts.BundleTemplateSnapshot `json:"template_snapshot"`
	RouterLink       *contracts.BundleRouterLink      `json:"router_link"`
}

// ComputeDigest returns the prefixed canonical digest of b's digest surface.
func ComputeDigest(b *contracts.DecisionBundle) (string, error) {
	return canonical.PrefixedDigest(digestInput{
		BundleVersion:    b.BundleVersion,
		Decision:         b.Decision,
		Events:           b.Events,
		TemplateSnapshot: b.TemplateSnapshot,
		RouterLink:       b.RouterLink,
	})
}

// LinkDigest computes the portable control/router link digest. It depends
// only on public identifiers, not on either side's internal representation.
func LinkDigest(decisionID, runID, requestDigest, resultDigest string) (string, error) {
	return canonical.ContentDigest(map[string]any{
		"decision_id":           decisionID,
		"run_id":                runID,
		"router_request_digest": requestDigest,
		"router_result_digest":  resultDigest,
	})
}
