package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexus-labs/nexus/core/pkg/bundle"
	"github.com/nexus-labs/nexus/core/pkg/canonical"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/store"
)

func seededBuilder(t *testing.T, id string, executed bool) *Builder {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	es := store.NewEventStore(s)

	ctx := context.Background()
	_, err = es.CreateAggregate(ctx, id)
	require.NoError(t, err)

	alice := contracts.Actor{Type: contracts.ActorHuman, ID: "alice"}
	sys := contracts.Actor{Type: contracts.ActorSystem, ID: "nexus"}
	appendTyped(t, es, id, contracts.EventDecisionCreated, alice,
		contracts.DecisionCreatedPayload{Goal: "deploy v2", RequestedMode: contracts.ModeApply, Labels: []string{}})
	appendTyped(t, es, id, contracts.EventPolicyAttached, alice,
		contracts.PolicyAttachedPayload{MinApprovals: 1, AllowedModes: []contracts.Mode{}, RequireAdapterCapabilities: []string{}, Labels: []string{}})
	appendTyped(t, es, id, contracts.EventApprovalGranted, alice, contracts.ApprovalGrantedPayload{})
	if executed {
		appendTyped(t, es, id, contracts.EventExecutionRequested, sys,
			contracts.ExecutionRequestedPayload{AdapterID: "stub"})
		appendTyped(t, es, id, contracts.EventExecutionStarted, sys,
			contracts.ExecutionStartedPayload{RouterRequestDigest: "reqd"})
		appendTyped(t, es, id, contracts.EventExecutionCompleted, sys,
			contracts.ExecutionCompletedPayload{RunID: "run-77", ResponseDigest: "routerresult"})
	}
	return NewBuilder(bundle.NewExporter(es))
}

func appendTyped(t *testing.T, es *store.EventStore, id string, typ contracts.EventType, actor contracts.Actor, payload any) {
	t.Helper()
	m, err := contracts.PayloadMap(payload)
	require.NoError(t, err)
	_, err = es.AppendEvent(context.Background(), id, typ, actor, m)
	require.NoError(t, err)
}

// S7: a well-formed reference package verifies clean; corrupting the router
// digest fails exactly binding_router_match plus the digests derived from it.
func TestBuildAndVerifyReferencePackage(t *testing.T) {
	b := seededBuilder(t, "dec_s7", true)
	pkg, err := b.Build(context.Background(), "dec_s7", DefaultBuildOptions())
	require.NoError(t, err)
	require.Equal(t, ModeReference, pkg.Router.Mode)
	require.Equal(t, "run-77", pkg.Router.Ref.RunID)

	report := Verify(pkg)
	require.True(t, report.OK)
	for _, c := range report.Checks {
		require.True(t, c.OK, "check %s failed: %s", c.Name, c.Reason)
	}

	pkg.Binding.RouterDigest = "tampered"
	report = Verify(pkg)
	require.False(t, report.OK)
	byName := map[string]Check{}
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	require.False(t, byName["binding_router_match"].OK)
	// All checks still ran despite the failure.
	require.Len(t, report.Checks, 5)
}

func TestBuildRequiresRouterLink(t *testing.T) {
	b := seededBuilder(t, "dec_nolink", false)
	_, err := b.Build(context.Background(), "dec_nolink", DefaultBuildOptions())
	require.Error(t, err)
	require.Equal(t, contracts.CodeNoRouterLink, contracts.ErrCode(err))
}

func embeddedRouterBundle(t *testing.T) (map[string]any, string) {
	t.Helper()
	content := map[string]any{
		"bundle_version": "0.3",
		"run":            map[string]any{"run_id": "run-77", "steps_executed": float64(2)},
	}
	digest, err := canonical.PrefixedDigest(content)
	require.NoError(t, err)
	full := map[string]any{
		"bundle_version": content["bundle_version"],
		"run":            content["run"],
		"integrity":      map[string]any{"alg": "sha256", "canonical_digest": digest},
	}
	return full, digest
}

func TestBuildEmbeddedVerifiesRouterDigest(t *testing.T) {
	b := seededBuilder(t, "dec_emb", true)
	routerBundle, digest := embeddedRouterBundle(t)

	// Mismatch against the control side's recorded result digest.
	opts := BuildOptions{Mode: ModeEmbedded, RouterBundle: routerBundle, VerifyRouterBundleDigest: true}
	_, err := b.Build(context.Background(), "dec_emb", opts)
	require.Error(t, err)
	require.Equal(t, contracts.CodeRouterDigestMismatch, contracts.ErrCode(err))

	// Skipping verification accepts the embedded bundle as-is.
	opts.VerifyRouterBundleDigest = false
	pkg, err := b.Build(context.Background(), "dec_emb", opts)
	require.NoError(t, err)
	require.Equal(t, digest, pkg.Binding.RouterDigest)

	report := Verify(pkg)
	byName := map[string]Check{}
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	// The embedded bundle itself is internally consistent.
	require.True(t, byName["router_bundle_digest"].OK)
	require.True(t, byName["binding_router_match"].OK)
	require.Len(t, report.Checks, 6)
}

func TestVerifyDetectsBindingDigestTamper(t *testing.T) {
	b := seededBuilder(t, "dec_bd", true)
	pkg, err := b.Build(context.Background(), "dec_bd", DefaultBuildOptions())
	require.NoError(t, err)

	pkg.Integrity.BindingDigest = "sha256:deadbeef"
	report := Verify(pkg)
	require.False(t, report.OK)
	require.Equal(t, "binding_digest", report.Checks[0].Name)
	require.False(t, report.Checks[0].OK)
}
