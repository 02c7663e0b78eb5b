// Package governance is the command layer over the decision event log:
// validated writes in, events out. Every command loads the current
// projection, enforces its preconditions, and appends exactly the events
// the command implies.
package governance

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/projection"
	"github.com/nexus-labs/nexus/core/pkg/store"
	"github.com/nexus-labs/nexus/core/pkg/templates"
)

// Service executes governance commands against the event store.
type Service struct {
	events   *store.EventStore
	router   Router
	registry *templates.Registry
	clock    func() time.Time
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRouter wires the execution dispatch port.
func WithRouter(r Router) ServiceOption {
	return func(s *Service) { s.router = r }
}

// WithTemplates wires the policy template registry.
func WithTemplates(reg *templates.Registry) ServiceOption {
	return func(s *Service) { s.registry = reg }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

func NewService(events *store.EventStore, opts ...ServiceOption) *Service {
	s := &Service{
		events: events,
		clock:  time.Now,
		logger: slog.Default().With("component", "governance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDecision opens a new decision aggregate and emits DECISION_CREATED.
// An empty id lets the store mint one.
func (s *Service) CreateDecision(ctx context.Context, id, goal string, mode contracts.Mode, plan *string, labels []string, actor contracts.Actor) (*projection.Decision, error) {
	if goal == "" {
		return nil, contracts.Errf(contracts.CodeInvalidPolicy, "decision goal must not be empty")
	}
	if !contracts.ValidMode(mode) {
		return nil, contracts.Errf(contracts.CodeInvalidPolicy, "unknown mode %q", mode)
	}
	if labels == nil {
		labels = []string{}
	}

	decisionID, err := s.events.CreateAggregate(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := contracts.PayloadMap(contracts.DecisionCreatedPayload{
		Goal: goal, Plan: plan, RequestedMode: mode, Labels: labels,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.events.AppendEvent(ctx, decisionID, contracts.EventDecisionCreated, actor, payload); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "decision created", "decision_id", decisionID, "mode", mode)
	return s.GetDecision(ctx, decisionID)
}

// AttachPolicy fixes the governance policy for a decision.
func (s *Service) AttachPolicy(ctx context.Context, decisionID string, policy contracts.Policy, actor contracts.Actor) (*projection.Decision, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.AllowedModes == nil {
		policy.AllowedModes = []contracts.Mode{}
	}
	if policy.RequireAdapterCapabilities == nil {
		policy.RequireAdapterCapabilities = []string{}
	}
	if policy.Labels == nil {
		policy.Labels = []string{}
	}
	payload, err := contracts.PayloadMap(contracts.PolicyAttachedPayload{
		MinApprovals:               policy.MinApprovals,
		AllowedModes:               policy.AllowedModes,
		RequireAdapterCapabilities: policy.RequireAdapterCapabilities,
		MaxSteps:                   policy.MaxSteps,
		Labels:                     policy.Labels,
	})
	if err != nil {
		return nil, err
	}
	return s.appendAndReplay(ctx, decisionID, contracts.EventPolicyAttached, actor, payload)
}

// AttachTemplate resolves a named template (plus overrides) into the
// decision's policy.
func (s *Service) AttachTemplate(ctx context.Context, decisionID, templateName string, ov templates.Overrides, actor contracts.Actor) (*projection.Decision, error) {
	if s.registry == nil {
		return nil, contracts.Errf(contracts.CodeTemplateNotFound, "no template registry configured")
	}
	payload, err := s.registry.Apply(ctx, templateName, ov)
	if err != nil {
		return nil, err
	}
	m, err := contracts.PayloadMap(payload)
	if err != nil {
		return nil, err
	}
	return s.appendAndReplay(ctx, decisionID, contracts.EventPolicyAttached, actor, m)
}

// Approve records one actor's approval. An actor approves at most once per
// decision: both a live approval and a revoked one block a second grant.
func (s *Service) Approve(ctx context.Context, decisionID string, actor contracts.Actor, expiresAt *time.Time, comment *string) (*projection.Decision, error) {
	d, err := s.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d.Policy == nil {
		return nil, contracts.Errf(contracts.CodeNoPolicy, "decision %s has no policy to approve against", decisionID)
	}
	if _, ok := d.Approvals[actor.ID]; ok {
		return nil, contracts.Errf(contracts.CodeDuplicateApproval,
			"actor %s already has an approval on decision %s", actor.ID, decisionID)
	}
	payload, err := contracts.PayloadMap(contracts.ApprovalGrantedPayload{ExpiresAt: expiresAt, Comment: comment})
	if err != nil {
		return nil, err
	}
	return s.appendAndReplay(ctx, decisionID, contracts.EventApprovalGranted, actor, payload)
}

// Revoke withdraws an actor's own live approval.
func (s *Service) Revoke(ctx context.Context, decisionID string, actor contracts.Actor, reason string) (*projection.Decision, error) {
	d, err := s.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	a, ok := d.Approvals[actor.ID]
	if !ok || a.Revoked {
		return nil, contracts.Errf(contracts.CodeApprovalNotFound,
			"actor %s has no active approval on decision %s", actor.ID, decisionID)
	}
	payload, err := contracts.PayloadMap(contracts.ApprovalRevokedPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return s.appendAndReplay(ctx, decisionID, contracts.EventApprovalRevoked, actor, payload)
}

// RequestExecution dispatches an approved decision to the router, emitting
// EXECUTION_REQUESTED followed by EXECUTION_COMPLETED or EXECUTION_FAILED.
// Synchronous dispatch never emits EXECUTION_STARTED; that event exists for
// logs produced by asynchronous executors and arrives only via import.
func (s *Service) RequestExecution(ctx context.Context, decisionID, adapterID string, dryRun bool, actor contracts.Actor) (*projection.Decision, error) {
	if s.router == nil {
		return nil, contracts.Errf(contracts.CodeRouterError, "no router configured")
	}
	d, err := s.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if d.State == projection.StateCompleted {
		return nil, contracts.Errf(contracts.CodeAlreadyExecuted,
			"decision %s already executed (run %s)", decisionID, d.LatestRunID())
	}
	if d.Policy == nil {
		return nil, contracts.Errf(contracts.CodeNoPolicy, "decision %s has no policy", decisionID)
	}
	if !d.IsApproved(now) {
		return nil, contracts.Errf(contracts.CodeMissingApprovals,
			"decision %s has %d of %d required approvals", decisionID, d.ActiveApprovalCount(now), d.Policy.MinApprovals)
	}
	mode := contracts.ModeApply
	if dryRun {
		mode = contracts.ModeDryRun
	}
	if !d.Policy.AllowsMode(mode) {
		return nil, contracts.Errf(contracts.CodePolicyBlocked, "policy does not allow mode %q", mode)
	}
	if len(d.Policy.RequireAdapterCapabilities) > 0 {
		caps, err := s.router.GetAdapterCapabilities(ctx, adapterID)
		if err != nil {
			return nil, contracts.Errf(contracts.CodeRouterError, "capability query failed: %v", err)
		}
		if caps != nil {
			// nil means unknown, which skips the check
			have := map[string]bool{}
			for _, c := range caps {
				have[c] = true
			}
			for _, need := range d.Policy.RequireAdapterCapabilities {
				if !have[need] {
					return nil, contracts.Errf(contracts.CodePolicyBlocked,
						"adapter %s lacks required capability %q", adapterID, need)
				}
			}
		}
	}

	req := RunRequest{
		Goal:                d.Goal,
		AdapterID:           adapterID,
		DryRun:              dryRun,
		Plan:                d.Plan,
		MaxSteps:            d.Policy.MaxSteps,
		RequireCapabilities: d.Policy.RequireAdapterCapabilities,
	}
	reqDigest, err := req.Digest()
	if err != nil {
		return nil, err
	}

	requested, err := contracts.PayloadMap(contracts.ExecutionRequestedPayload{
		AdapterID:           adapterID,
		DryRun:              dryRun,
		RouterRequestDigest: reqDigest,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.events.AppendEvent(ctx, decisionID, contracts.EventExecutionRequested, actor, requested); err != nil {
		return nil, err
	}
	sys := contracts.Actor{Type: contracts.ActorSystem, ID: "nexus"}

	result, runErr := s.router.Run(ctx, req)
	if runErr != nil {
		failed, err := contracts.PayloadMap(contracts.ExecutionFailedPayload{
			ErrorCode:    contracts.CodeRouterError,
			ErrorMessage: runErr.Error(),
		})
		if err != nil {
			return nil, err
		}
		s.logger.WarnContext(ctx, "router dispatch failed", "decision_id", decisionID, "error", runErr)
		return s.appendAndReplay(ctx, decisionID, contracts.EventExecutionFailed, sys, failed)
	}

	respDigest, err := result.Digest()
	if err != nil {
		return nil, err
	}
	steps := result.StepsExecuted
	completed, err := contracts.PayloadMap(contracts.ExecutionCompletedPayload{
		RunID:          result.RunID,
		ResponseDigest: respDigest,
		StepsExecuted:  &steps,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "execution completed",
		"decision_id", decisionID, "run_id", result.RunID, "steps", steps, "dry_run", dryRun)
	return s.appendAndReplay(ctx, decisionID, contracts.EventExecutionCompleted, sys, completed)
}

// GetDecision replays one decision at the current clock.
func (s *Service) GetDecision(ctx context.Context, decisionID string) (*projection.Decision, error) {
	events, err := s.events.GetEvents(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, contracts.Errf(contracts.CodeDecisionNotFound, "decision %s not found", decisionID)
	}
	return projection.ReplayAt(events, s.clock().UTC())
}

// Lifecycle analyzes a decision's progress and blocking state.
func (s *Service) Lifecycle(ctx context.Context, decisionID string) (*projection.Lifecycle, error) {
	d, err := s.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	return projection.Analyze(d, s.clock().UTC()), nil
}

func (s *Service) appendAndReplay(ctx context.Context, decisionID string, typ contracts.EventType, actor contracts.Actor, payload map[string]any) (*projection.Decision, error) {
	if _, err := s.events.AppendEvent(ctx, decisionID, typ, actor, payload); err != nil {
		return nil, err
	}
	return s.GetDecision(ctx, decisionID)
}
