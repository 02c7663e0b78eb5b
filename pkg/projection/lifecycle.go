package projection

import (
	"fmt"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// DefaultTimelineLimit is how many trailing timeline entries Analyze keeps.
const DefaultTimelineLimit = 20

// BlockingReason says why a decision cannot proceed. At most one reason is
// ever emitted; the priority order is a public contract for automation.
type BlockingReason struct {
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// TimelineEntry is one human-friendly row derived from the event log.
// Synthetic entries (THRESHOLD_MET) sort after the real event at their seq.
type TimelineEntry struct {
	Seq       int64            `json:"seq"`
	Synthetic bool             `json:"synthetic,omitempty"`
	Kind      string           `json:"kind"`
	Label     string           `json:"label"`
	Actor     *contracts.Actor `json:"actor,omitempty"`
	TS        *time.Time       `json:"ts,omitempty"`
}

// Progress summarizes approval and execution counts.
type Progress struct {
	ApprovalsRequired int `json:"approvals_required"`
	ApprovalsCurrent  int `json:"approvals_current"`
	Executions        int `json:"executions"`
}

// Lifecycle is the full analysis of a decision at one instant.
type Lifecycle struct {
	State             State            `json:"state"`
	BlockingReasons   []BlockingReason `json:"blocking_reasons"`
	Progress          Progress         `json:"progress"`
	Timeline          []TimelineEntry  `json:"timeline"`
	TimelineTotal     int              `json:"timeline_total"`
	TimelineTruncated bool             `json:"timeline_truncated"`
}

// Analyze runs the lifecycle analysis with the default timeline truncation.
func Analyze(d *Decision, now time.Time) *Lifecycle {
	return AnalyzeWithLimit(d, now, DefaultTimelineLimit)
}

// AnalyzeWithLimit is Analyze with an explicit timeline limit; limit <= 0
// disables truncation.
func AnalyzeWithLimit(d *Decision, now time.Time, limit int) *Lifecycle {
	lc := &Lifecycle{State: d.State, BlockingReasons: []BlockingReason{}}

	required := 0
	if d.Policy != nil {
		required = d.Policy.MinApprovals
	}
	current := d.ActiveApprovalCount(now)
	lc.Progress = Progress{
		ApprovalsRequired: required,
		ApprovalsCurrent:  current,
		Executions:        len(d.Executions),
	}

	if reason := blockingReason(d, now); reason != nil {
		lc.BlockingReasons = append(lc.BlockingReasons, *reason)
	}

	timeline := buildTimeline(d, now, required)
	lc.TimelineTotal = len(timeline)
	if limit > 0 && len(timeline) > limit {
		timeline = timeline[len(timeline)-limit:]
		lc.TimelineTruncated = true
	}
	lc.Timeline = timeline
	return lc
}

// blockingReason applies the fixed priority order. The first matching rule
// returns exclusively.
func blockingReason(d *Decision, now time.Time) *BlockingReason {
	if d.Policy == nil {
		return &BlockingReason{Code: contracts.CodeNoPolicy}
	}

	if d.State == StateCompleted {
		return &BlockingReason{
			Code:    contracts.CodeAlreadyExecuted,
			Details: map[string]any{"run_id": d.LatestRunID()},
		}
	}

	if d.State == StateFailed {
		details := map[string]any{}
		if ex := d.LatestExecution(); ex != nil {
			details["error_code"] = ex.ErrorCode
			details["error_message"] = ex.ErrorMessage
		}
		return &BlockingReason{Code: contracts.CodeExecutionFailed, Details: details}
	}

	required := d.Policy.MinApprovals
	current := d.ActiveApprovalCount(now)

	// Expired-approval detection deliberately compares the granted count
	// with expiry IGNORED against the threshold: "you had enough approvals,
	// but some have lapsed" reads differently from "you never had enough".
	expired := 0
	granted := 0
	for _, a := range d.Approvals {
		if a.Revoked {
			continue
		}
		granted++
		if a.Expired(now) {
			expired++
		}
	}
	if expired > 0 && granted >= required {
		return &BlockingReason{
			Code: contracts.CodeApprovalExpired,
			Details: map[string]any{
				"expired_count": expired,
				"current_valid": current,
				"required":      required,
			},
		}
	}

	if current < required {
		return &BlockingReason{
			Code: contracts.CodeMissingApprovals,
			Details: map[string]any{
				"required": required,
				"current":  current,
				"missing":  required - current,
			},
		}
	}
	return nil
}

// buildTimeline renders one entry per event plus a synthetic THRESHOLD_MET
// entry at the seq of the approval that first met the threshold.
func buildTimeline(d *Decision, now time.Time, required int) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(d.Events)+1)
	thresholdSeq := thresholdMetSeq(d, now, required)

	for _, ev := range d.Events {
		ts := ev.Timestamp
		actor := ev.Actor
		entries = append(entries, TimelineEntry{
			Seq:   ev.Seq,
			Kind:  string(ev.Type),
			Label: timelineLabel(ev),
			Actor: &actor,
			TS:    &ts,
		})
		if thresholdSeq != nil && *thresholdSeq == ev.Seq {
			entries = append(entries, TimelineEntry{
				Seq:       ev.Seq,
				Synthetic: true,
				Kind:      "THRESHOLD_MET",
				Label:     fmt.Sprintf("approval threshold met (%d required)", required),
			})
		}
	}
	return entries
}

// thresholdMetSeq finds the seq of the approval that first made the active
// count reach the threshold, replaying approvals in log order.
func thresholdMetSeq(d *Decision, now time.Time, required int) *int64 {
	if d.Policy == nil || required < 1 {
		return nil
	}
	// Each grant's expiry comes from its own payload, not from the folded
	// approval state: a revocation later in the log must not erase a
	// threshold crossing that already happened.
	expiries := map[string]*time.Time{}
	for _, ev := range d.Events {
		switch ev.Type {
		case contracts.EventApprovalGranted:
			var p contracts.ApprovalGrantedPayload
			if err := decodePayload(ev.Payload, &p); err != nil {
				continue
			}
			expiries[ev.Actor.ID] = p.ExpiresAt
			active := 0
			for _, exp := range expiries {
				if exp == nil || exp.After(now) {
					active++
				}
			}
			if active >= required {
				seq := ev.Seq
				return &seq
			}
		case contracts.EventApprovalRevoked:
			delete(expiries, ev.Actor.ID)
		}
	}
	return nil
}

func timelineLabel(ev contracts.StoredEvent) string {
	switch ev.Type {
	case contracts.EventDecisionCreated:
		if goal, ok := ev.Payload["goal"].(string); ok {
			return fmt.Sprintf("decision created: %s", goal)
		}
		return "decision created"
	case contracts.EventPolicyAttached:
		return "policy attached"
	case contracts.EventApprovalGranted:
		return fmt.Sprintf("approved by %s", ev.Actor.ID)
	case contracts.EventApprovalRevoked:
		return fmt.Sprintf("approval revoked by %s", ev.Actor.ID)
	case contracts.EventExecutionRequested:
		return "execution requested"
	case contracts.EventExecutionStarted:
		return "execution started"
	case contracts.EventExecutionCompleted:
		return "execution completed"
	case contracts.EventExecutionFailed:
		return "execution failed"
	default:
		return string(ev.Type)
	}
}
