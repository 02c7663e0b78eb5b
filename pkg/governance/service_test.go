package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/projection"
	"github.com/nexus-labs/nexus/core/pkg/store"
	"github.com/nexus-labs/nexus/core/pkg/templates"
)

var (
	alice = contracts.Actor{Type: contracts.ActorHuman, ID: "alice"}
	bob   = contracts.Actor{Type: contracts.ActorHuman, ID: "bob"}
)

type stubRouter struct {
	result  *RunResult
	runErr  error
	caps    []string
	capsErr error
}

func (r *stubRouter) Run(context.Context, RunRequest) (*RunResult, error) {
	return r.result, r.runErr
}

func (r *stubRouter) GetAdapterCapabilities(context.Context, string) ([]string, error) {
	return r.caps, r.capsErr
}

func newService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewService(store.NewEventStore(s), opts...)
}

// S1: 2-of-2 approval then dry-run execution. The log ends with exactly six
// events, seqs 0 through 5.
func TestTwoOfTwoApprovalFlow(t *testing.T) {
	router := &stubRouter{result: &RunResult{RunID: "r1", StepsExecuted: 3}}
	svc := newService(t, WithRouter(router))
	ctx := context.Background()

	d, err := svc.CreateDecision(ctx, "", "rotate keys", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	require.Equal(t, projection.StateDraft, d.State)

	d, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{MinApprovals: 2}, alice)
	require.NoError(t, err)
	require.Equal(t, projection.StatePendingApproval, d.State)

	d, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.NoError(t, err)
	require.Equal(t, projection.StatePendingApproval, d.State)
	require.False(t, d.IsApproved(time.Now()))

	d, err = svc.Approve(ctx, d.ID, bob, nil, nil)
	require.NoError(t, err)
	require.Equal(t, projection.StateApproved, d.State)

	d, err = svc.RequestExecution(ctx, d.ID, "stub", true, bob)
	require.NoError(t, err)
	require.Equal(t, projection.StateCompleted, d.State)
	require.Equal(t, "r1", d.LatestRunID())
	require.NotNil(t, d.LatestExecution().StepsExecuted)
	require.Equal(t, 3, *d.LatestExecution().StepsExecuted)

	require.Len(t, d.Events, 6)
	for i, ev := range d.Events {
		require.Equal(t, int64(i), ev.Seq)
	}

	// Synchronous dispatch contributes exactly two events: the caller's
	// EXECUTION_REQUESTED and the system's terminal EXECUTION_COMPLETED.
	require.Equal(t, contracts.EventExecutionRequested, d.Events[4].Type)
	require.Equal(t, bob, d.Events[4].Actor)
	require.Equal(t, contracts.EventExecutionCompleted, d.Events[5].Type)
	require.Equal(t, contracts.ActorSystem, d.Events[5].Actor.Type)
	require.NotEmpty(t, d.LatestExecution().RequestDigest)
}

func TestApproveRequiresPolicy(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeDryRun, nil, nil, alice)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.Equal(t, contracts.CodeNoPolicy, contracts.ErrCode(err))
}

func TestDuplicateApprovalRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	_, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{MinApprovals: 1}, alice)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.Equal(t, contracts.CodeDuplicateApproval, contracts.ErrCode(err))
}

// A revoked actor cannot approve again: the first grant is spent.
func TestReapprovalAfterRevocationRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	_, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{MinApprovals: 1}, alice)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.NoError(t, err)
	d, err = svc.Revoke(ctx, d.ID, alice, "fat-fingered")
	require.NoError(t, err)
	require.Equal(t, projection.StatePendingApproval, d.State)

	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.Equal(t, contracts.CodeDuplicateApproval, contracts.ErrCode(err))
}

func TestRevokeWithoutApproval(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	_, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{MinApprovals: 1}, alice)
	require.NoError(t, err)

	_, err = svc.Revoke(ctx, d.ID, bob, "never approved")
	require.Equal(t, contracts.CodeApprovalNotFound, contracts.ErrCode(err))
}

func TestExecutionBlockedWithoutApprovals(t *testing.T) {
	svc := newService(t, WithRouter(&stubRouter{result: &RunResult{RunID: "x"}}))
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	_, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{MinApprovals: 2}, alice)
	require.NoError(t, err)

	_, err = svc.RequestExecution(ctx, d.ID, "stub", false, alice)
	require.Equal(t, contracts.CodeMissingApprovals, contracts.ErrCode(err))
}

func TestExecutionModeBlocked(t *testing.T) {
	svc := newService(t, WithRouter(&stubRouter{result: &RunResult{RunID: "x"}}))
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	_, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{
		MinApprovals: 1, AllowedModes: []contracts.Mode{contracts.ModeDryRun},
	}, alice)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.NoError(t, err)

	_, err = svc.RequestExecution(ctx, d.ID, "stub", false, alice)
	require.Equal(t, contracts.CodePolicyBlocked, contracts.ErrCode(err))
}

func TestExecutionCapabilityCheck(t *testing.T) {
	ctx := context.Background()
	policy := contracts.Policy{
		MinApprovals:               1,
		RequireAdapterCapabilities: []string{"kv.write"},
	}

	setup := func(t *testing.T, router *stubRouter) (*Service, string) {
		svc := newService(t, WithRouter(router))
		d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
		require.NoError(t, err)
		_, err = svc.AttachPolicy(ctx, d.ID, policy, alice)
		require.NoError(t, err)
		_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
		require.NoError(t, err)
		return svc, d.ID
	}

	t.Run("missing capability blocks", func(t *testing.T) {
		svc, id := setup(t, &stubRouter{caps: []string{"kv.read"}, result: &RunResult{RunID: "x"}})
		_, err := svc.RequestExecution(ctx, id, "stub", false, alice)
		require.Equal(t, contracts.CodePolicyBlocked, contracts.ErrCode(err))
	})

	t.Run("nil capabilities skip the check", func(t *testing.T) {
		svc, id := setup(t, &stubRouter{caps: nil, result: &RunResult{RunID: "x", StepsExecuted: 1}})
		d, err := svc.RequestExecution(ctx, id, "stub", false, alice)
		require.NoError(t, err)
		require.Equal(t, projection.StateCompleted, d.State)
	})
}

// Router failure is recorded as EXECUTION_FAILED, not surfaced as a command
// error: the log keeps the evidence.
func TestExecutionRouterFailureRecorded(t *testing.T) {
	svc := newService(t, WithRouter(&stubRouter{runErr: errors.New("adapter crashed")}))
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	_, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{MinApprovals: 1}, alice)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.NoError(t, err)

	d, err = svc.RequestExecution(ctx, d.ID, "stub", false, alice)
	require.NoError(t, err)
	require.Equal(t, projection.StateFailed, d.State)
	ex := d.LatestExecution()
	require.Equal(t, contracts.CodeRouterError, ex.ErrorCode)
	require.Contains(t, ex.ErrorMessage, "adapter crashed")
}

func TestAlreadyExecutedBlocked(t *testing.T) {
	svc := newService(t, WithRouter(&stubRouter{result: &RunResult{RunID: "r1", StepsExecuted: 1}}))
	ctx := context.Background()
	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	_, err = svc.AttachPolicy(ctx, d.ID, contracts.Policy{MinApprovals: 1}, alice)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, d.ID, alice, nil, nil)
	require.NoError(t, err)
	_, err = svc.RequestExecution(ctx, d.ID, "stub", false, alice)
	require.NoError(t, err)

	_, err = svc.RequestExecution(ctx, d.ID, "stub", false, alice)
	require.Equal(t, contracts.CodeAlreadyExecuted, contracts.ErrCode(err))
}

func TestAttachTemplateFlow(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reg := templates.NewRegistry(s)
	svc := NewService(store.NewEventStore(s), WithTemplates(reg))
	ctx := context.Background()

	_, err = reg.Create(ctx, "std", "standard policy", contracts.Policy{MinApprovals: 2}, alice)
	require.NoError(t, err)

	d, err := svc.CreateDecision(ctx, "", "ship it", contracts.ModeApply, nil, nil, alice)
	require.NoError(t, err)
	one := 1
	d, err = svc.AttachTemplate(ctx, d.ID, "std", templates.Overrides{MinApprovals: &one}, alice)
	require.NoError(t, err)

	require.NotNil(t, d.Policy)
	require.Equal(t, 1, d.Policy.MinApprovals)
	require.NotNil(t, d.TemplateRef)
	require.Equal(t, "std", d.TemplateRef.Name)
	require.Equal(t, []string{"min_approvals"}, d.TemplateRef.OverridesApplied)
}

func TestGetDecisionNotFound(t *testing.T) {
	svc := newService(t)
	_, err := svc.GetDecision(context.Background(), "dec_missing")
	require.Equal(t, contracts.CodeDecisionNotFound, contracts.ErrCode(err))
}
