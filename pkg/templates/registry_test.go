package templates

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/store"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewRegistry(s)
}

var owner = contracts.Actor{Type: contracts.ActorHuman, ID: "alice"}

func basePolicy() contracts.Policy {
	return contracts.Policy{
		MinApprovals: 2,
		AllowedModes: []contracts.Mode{contracts.ModeApply},
		Labels:       []string{"prod"},
	}
}

func TestCreateAndGet(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	tpl, err := r.Create(ctx, "prod-deploy", "production rollout policy", basePolicy(), owner)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tpl.Digest, "sha256:"))

	got, err := r.Get(ctx, "prod-deploy")
	require.NoError(t, err)
	require.Equal(t, tpl.Digest, got.Digest)
	require.Equal(t, 2, got.Policy.MinApprovals)
	require.Equal(t, []string{"prod"}, got.Policy.Labels)
	require.Equal(t, owner, got.CreatedBy)
}

func TestCreateDuplicateRejected(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, err := r.Create(ctx, "dup", "", basePolicy(), owner)
	require.NoError(t, err)
	_, err = r.Create(ctx, "dup", "second", basePolicy(), owner)
	require.Equal(t, contracts.CodeTemplateExists, contracts.ErrCode(err))
}

// Name boundaries: empty rejected, 64 chars accepted, 65 rejected.
func TestCreateNameBoundaries(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, "", "", basePolicy(), owner)
	require.Error(t, err)

	_, err = r.Create(ctx, strings.Repeat("a", 64), "", basePolicy(), owner)
	require.NoError(t, err)

	_, err = r.Create(ctx, strings.Repeat("a", 65), "", basePolicy(), owner)
	require.Error(t, err)

	_, err = r.Create(ctx, "has space", "", basePolicy(), owner)
	require.Error(t, err)
}

func TestGetMissing(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Get(context.Background(), "nope")
	require.Equal(t, contracts.CodeTemplateNotFound, contracts.ErrCode(err))
}

func TestDigestIsDeterministic(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	r1 := newRegistry(t).WithClock(func() time.Time { return fixed })
	r2 := newRegistry(t).WithClock(func() time.Time { return fixed.Add(time.Hour) })
	ctx := context.Background()

	t1, err := r1.Create(ctx, "same", "desc", basePolicy(), owner)
	require.NoError(t, err)
	t2, err := r2.Create(ctx, "same", "desc", basePolicy(), owner)
	require.NoError(t, err)
	// Creation time is not part of the template identity.
	require.Equal(t, t1.Digest, t2.Digest)
}

func TestApplyWithOverrides(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, err := r.Create(ctx, "base", "", basePolicy(), owner)
	require.NoError(t, err)

	one := 1
	payload, err := r.Apply(ctx, "base", Overrides{
		MinApprovals: &one,
		Labels:       []string{"staging"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, payload.MinApprovals)
	require.Equal(t, []string{"staging"}, payload.Labels)
	require.Equal(t, []contracts.Mode{contracts.ModeApply}, payload.AllowedModes)
	require.Equal(t, "base", payload.TemplateName)
	require.NotEmpty(t, payload.TemplateDigest)
	require.Equal(t, []string{"labels", "min_approvals"}, payload.OverridesApplied)

	// The snapshot keeps the pre-override values.
	require.Equal(t, "base", payload.TemplateSnapshot["name"])
	snapMin, ok := payload.TemplateSnapshot["min_approvals"].(json.Number)
	require.True(t, ok)
	require.Equal(t, "2", snapMin.String())
}

func TestApplyNoOverrides(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, err := r.Create(ctx, "plain", "", basePolicy(), owner)
	require.NoError(t, err)

	payload, err := r.Apply(ctx, "plain", Overrides{})
	require.NoError(t, err)
	require.Equal(t, 2, payload.MinApprovals)
	require.Empty(t, payload.OverridesApplied)
}

func TestApplyInvalidOverrideRejected(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, err := r.Create(ctx, "strict", "", basePolicy(), owner)
	require.NoError(t, err)

	zero := 0
	_, err = r.Apply(ctx, "strict", Overrides{MinApprovals: &zero})
	require.Equal(t, contracts.CodeInvalidPolicy, contracts.ErrCode(err))
}

func TestList(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha"} {
		_, err := r.Create(ctx, name, "", basePolicy(), owner)
		require.NoError(t, err)
	}
	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "alpha", all[0].Name)
	require.Equal(t, "zeta", all[1].Name)
}
