package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
)

// EventType enumerates the decision and template event variants.
type EventType string

const (
	EventDecisionCreated    EventType = "DECISION_CREATED"
	EventPolicyAttached     EventType = "POLICY_ATTACHED"
	EventApprovalGranted    EventType = "APPROVAL_GRANTED"
	EventApprovalRevoked    EventType = "APPROVAL_REVOKED"
	EventExecutionRequested EventType = "EXECUTION_REQUESTED"
	EventExecutionStarted   EventType = "EXECUTION_STARTED"
	EventExecutionCompleted EventType = "EXECUTION_COMPLETED"
	EventExecutionFailed    EventType = "EXECUTION_FAILED"
	EventTemplateCreated    EventType = "TEMPLATE_CREATED"
)

// ActorType distinguishes human operators from services.
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
)

// Actor identifies who caused an event.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// StoredEvent is one immutable entry in an aggregate's event log.
// Payload keeps the public dict shape; typed builders below produce it.
type StoredEvent struct {
	AggregateID string         `json:"aggregate_id"`
	Seq         int64          `json:"seq"`
	Type        EventType      `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Actor       Actor          `json:"actor"`
	Payload     map[string]any `json:"payload"`
	Digest      string         `json:"digest"`
}

// EventDigest computes the content digest of (event_type, payload).
// Two logically identical events always share a digest.
func EventDigest(eventType EventType, payload map[string]any) (string, error) {
	return canonical.ContentDigest(map[string]any{
		"event_type": string(eventType),
		"payload":    payload,
	})
}

// --- typed payload variants ---

// DecisionCreatedPayload starts a decision's event log.
type DecisionCreatedPayload struct {
	Goal          string   `json:"goal"`
	Plan          *string  `json:"plan,omitempty"`
	RequestedMode Mode     `json:"requested_mode"`
	Labels        []string `json:"labels"`
}

// PolicyAttachedPayload fixes the governance policy for a decision.
type PolicyAttachedPayload struct {
	MinApprovals               int            `json:"min_approvals"`
	AllowedModes               []Mode         `json:"allowed_modes"`
	RequireAdapterCapabilities []string       `json:"require_adapter_capabilities"`
	MaxSteps                   *int           `json:"max_steps,omitempty"`
	Labels                     []string       `json:"labels"`
	TemplateName               string         `json:"template_name,omitempty"`
	TemplateDigest             string         `json:"template_digest,omitempty"`
	TemplateSnapshot           map[string]any `json:"template_snapshot,omitempty"`
	OverridesApplied           []string       `json:"overrides_applied,omitempty"`
}

// ApprovalGrantedPayload records one actor's approval; keyed by actor id.
type ApprovalGrantedPayload struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Comment   *string    `json:"comment,omitempty"`
}

// ApprovalRevokedPayload withdraws an existing approval.
type ApprovalRevokedPayload struct {
	Reason string `json:"reason"`
}

type ExecutionRequestedPayload struct {
	AdapterID string `json:"adapter_id"`
	DryRun    bool   `json:"dry_run"`
	// Set by synchronous dispatch, which goes straight from REQUESTED to a
	// terminal event and has no STARTED event to carry the digest.
	RouterRequestDigest string `json:"router_request_digest,omitempty"`
}

type ExecutionStartedPayload struct {
	RouterRequestDigest string `json:"router_request_digest"`
}

type ExecutionCompletedPayload struct {
	RunID          string `json:"run_id"`
	ResponseDigest string `json:"response_digest"`
	StepsExecuted  *int   `json:"steps_executed,omitempty"`
}

type ExecutionFailedPayload struct {
	ErrorCode    string  `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
	RunID        *string `json:"run_id,omitempty"`
}

// TemplateCreatedPayload records an immutable policy template.
type TemplateCreatedPayload struct {
	Name                       string   `json:"name"`
	Description                string   `json:"description"`
	MinApprovals               int      `json:"min_approvals"`
	AllowedModes               []Mode   `json:"allowed_modes"`
	RequireAdapterCapabilities []string `json:"require_adapter_capabilities"`
	MaxSteps                   *int     `json:"max_steps,omitempty"`
	Labels                     []string `json:"labels"`
}

// PayloadMap reduces a typed payload to the public dict shape used on disk
// and in digests. Numbers survive as json.Number so canonical encoding does
// not reinterpret them.
func PayloadMap(p any) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload marshal failed: %w", err)
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("payload decode failed: %w", err)
	}
	return m, nil
}
