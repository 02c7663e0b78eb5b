// Package projection derives decision state from event logs. A decision's
// state is never stored; it is the deterministic fold of its ordered
// events, so replaying the same log twice always yields an equal Decision.
package projection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// State is the lifecycle state of a decision.
type State string

const (
	StateDraft           State = "DRAFT"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateExecuting       State = "EXECUTING"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
)

// Approval is one actor's approval as folded from the log.
type Approval struct {
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	Seq          int64      `json:"seq"`
}

// Active reports whether the approval counts toward the threshold at now.
func (a *Approval) Active(now time.Time) bool {
	if a.Revoked {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Expired reports a non-revoked approval whose expiry has passed.
func (a *Approval) Expired(now time.Time) bool {
	return !a.Revoked && a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// ExecutionRecord tracks one dispatch to the router.
type ExecutionRecord struct {
	AdapterID      string     `json:"adapter_id"`
	DryRun         bool       `json:"dry_run"`
	RequestedAt    time.Time  `json:"requested_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	RequestDigest  string     `json:"request_digest,omitempty"`
	RunID          string     `json:"run_id,omitempty"`
	ResponseDigest string     `json:"response_digest,omitempty"`
	StepsExecuted  *int       `json:"steps_executed,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
}

// Decision is the read-only projection of one aggregate. The store owns
// the events; this value is recomputed on demand and never persisted.
type Decision struct {
	ID            string                 `json:"id"`
	Goal          string                 `json:"goal"`
	Plan          *string                `json:"plan,omitempty"`
	RequestedMode contracts.Mode         `json:"requested_mode"`
	Labels        []string               `json:"labels"`
	State         State                  `json:"state"`
	Policy        *contracts.Policy      `json:"policy,omitempty"`
	TemplateRef   *contracts.TemplateRef `json:"template_ref,omitempty"`
	Approvals     map[string]*Approval   `json:"approvals"`
	Executions    []*ExecutionRecord     `json:"executions"`
	Events        []contracts.StoredEvent `json:"-"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ActiveApprovalCount counts non-revoked, non-expired approvals at now.
func (d *Decision) ActiveApprovalCount(now time.Time) int {
	n := 0
	for _, a := range d.Approvals {
		if a.Active(now) {
			n++
		}
	}
	return n
}

// IsApproved reports whether the active approvals meet the policy threshold.
func (d *Decision) IsApproved(now time.Time) bool {
	if d.Policy == nil {
		return false
	}
	return d.ActiveApprovalCount(now) >= d.Policy.MinApprovals
}

// LatestExecution returns the most recent execution record, or nil.
func (d *Decision) LatestExecution() *ExecutionRecord {
	if len(d.Executions) == 0 {
		return nil
	}
	return d.Executions[len(d.Executions)-1]
}

// LatestRunID is the run id of the most recent completed execution.
func (d *Decision) LatestRunID() string {
	for i := len(d.Executions) - 1; i >= 0; i-- {
		if d.Executions[i].RunID != "" {
			return d.Executions[i].RunID
		}
	}
	return ""
}

// Replay folds events into a Decision, evaluating approval expiry against
// the wall clock.
func Replay(events []contracts.StoredEvent) (*Decision, error) {
	return ReplayAt(events, time.Now())
}

// ReplayAt folds events into a Decision with an explicit evaluation time.
func ReplayAt(events []contracts.StoredEvent, now time.Time) (*Decision, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("cannot replay empty event log")
	}
	if events[0].Type != contracts.EventDecisionCreated {
		return nil, fmt.Errorf("first event must be %s, got %s", contracts.EventDecisionCreated, events[0].Type)
	}

	d := &Decision{
		ID:        events[0].AggregateID,
		State:     StateDraft,
		Approvals: map[string]*Approval{},
		CreatedAt: events[0].Timestamp,
		Events:    events,
	}

	for i, ev := range events {
		if ev.Seq != int64(i) {
			return nil, fmt.Errorf("event log has seq gap: expected %d, got %d", i, ev.Seq)
		}
		if err := d.apply(ev, now); err != nil {
			return nil, fmt.Errorf("apply event seq %d: %w", ev.Seq, err)
		}
	}
	return d, nil
}

func (d *Decision) apply(ev contracts.StoredEvent, now time.Time) error {
	switch ev.Type {
	case contracts.EventDecisionCreated:
		var p contracts.DecisionCreatedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		d.Goal = p.Goal
		d.Plan = p.Plan
		d.RequestedMode = p.RequestedMode
		d.Labels = p.Labels

	case contracts.EventPolicyAttached:
		var p contracts.PolicyAttachedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		d.Policy = &contracts.Policy{
			MinApprovals:               p.MinApprovals,
			AllowedModes:               p.AllowedModes,
			RequireAdapterCapabilities: p.RequireAdapterCapabilities,
			MaxSteps:                   p.MaxSteps,
			Labels:                     p.Labels,
		}
		if p.TemplateName != "" {
			d.TemplateRef = &contracts.TemplateRef{
				Name:             p.TemplateName,
				Digest:           p.TemplateDigest,
				Snapshot:         p.TemplateSnapshot,
				OverridesApplied: p.OverridesApplied,
			}
		}
		d.State = StatePendingApproval

	case contracts.EventApprovalGranted:
		var p contracts.ApprovalGrantedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		a := &Approval{GrantedAt: ev.Timestamp, ExpiresAt: p.ExpiresAt, Seq: ev.Seq}
		if p.Comment != nil {
			a.Comment = *p.Comment
		}
		d.Approvals[ev.Actor.ID] = a
		d.reevaluateApproval(now)

	case contracts.EventApprovalRevoked:
		var p contracts.ApprovalRevokedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		a, ok := d.Approvals[ev.Actor.ID]
		if !ok {
			return fmt.Errorf("revocation references unknown approval for actor %s", ev.Actor.ID)
		}
		ts := ev.Timestamp
		a.Revoked = true
		a.RevokedAt = &ts
		a.RevokeReason = p.Reason
		d.reevaluateApproval(now)

	case contracts.EventExecutionRequested:
		var p contracts.ExecutionRequestedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		d.Executions = append(d.Executions, &ExecutionRecord{
			AdapterID:     p.AdapterID,
			DryRun:        p.DryRun,
			RequestedAt:   ev.Timestamp,
			RequestDigest: p.RouterRequestDigest,
		})

	case contracts.EventExecutionStarted:
		var p contracts.ExecutionStartedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		ex := d.LatestExecution()
		if ex == nil {
			return fmt.Errorf("execution started with no execution requested")
		}
		ts := ev.Timestamp
		ex.StartedAt = &ts
		ex.RequestDigest = p.RouterRequestDigest
		d.State = StateExecuting

	case contracts.EventExecutionCompleted:
		var p contracts.ExecutionCompletedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		ex := d.LatestExecution()
		if ex == nil {
			return fmt.Errorf("execution completed with no execution requested")
		}
		ts := ev.Timestamp
		ex.RunID = p.RunID
		ex.ResponseDigest = p.ResponseDigest
		ex.StepsExecuted = p.StepsExecuted
		ex.CompletedAt = &ts
		d.State = StateCompleted

	case contracts.EventExecutionFailed:
		var p contracts.ExecutionFailedPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		ex := d.LatestExecution()
		if ex == nil {
			return fmt.Errorf("execution failed with no execution requested")
		}
		ts := ev.Timestamp
		ex.ErrorCode = p.ErrorCode
		ex.ErrorMessage = p.ErrorMessage
		if p.RunID != nil {
			ex.RunID = *p.RunID
		}
		ex.FailedAt = &ts
		d.State = StateFailed

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// reevaluateApproval moves between PENDING_APPROVAL and APPROVED; later
// states are sticky.
func (d *Decision) reevaluateApproval(now time.Time) {
	if d.State != StatePendingApproval && d.State != StateApproved {
		return
	}
	if d.IsApproved(now) {
		d.State = StateApproved
	} else {
		d.State = StatePendingApproval
	}
}

func decodePayload(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("re-marshal payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
