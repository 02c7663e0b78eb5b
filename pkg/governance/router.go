package governance

import (
	"context"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
)

// RunRequest is the dispatch request handed to the router.
type RunRequest struct {
	Goal                string   `json:"goal"`
	AdapterID           string   `json:"adapter_id"`
	DryRun              bool     `json:"dry_run"`
	Plan                *string  `json:"plan,omitempty"`
	MaxSteps            *int     `json:"max_steps,omitempty"`
	RequireCapabilities []string `json:"require_capabilities,omitempty"`
}

// Digest returns the canonical content digest of the request, recorded as
// router_request_digest on EXECUTION_STARTED.
func (r *RunRequest) Digest() (string, error) {
	m := map[string]any{
		"goal":       r.Goal,
		"adapter_id": r.AdapterID,
		"dry_run":    r.DryRun,
	}
	if r.Plan != nil {
		m["plan"] = *r.Plan
	}
	if r.MaxSteps != nil {
		m["max_steps"] = *r.MaxSteps
	}
	if len(r.RequireCapabilities) > 0 {
		m["require_capabilities"] = r.RequireCapabilities
	}
	return canonical.ContentDigest(m)
}

// RunResult is the router's answer to a dispatch.
type RunResult struct {
	RunID         string         `json:"run_id"`
	StepsExecuted int            `json:"steps_executed"`
	Output        map[string]any `json:"output,omitempty"`
}

// Digest returns the canonical content digest of the result, recorded as
// response_digest on EXECUTION_COMPLETED.
func (r *RunResult) Digest() (string, error) {
	m := map[string]any{
		"run_id":         r.RunID,
		"steps_executed": r.StepsExecuted,
	}
	if len(r.Output) > 0 {
		m["output"] = r.Output
	}
	return canonical.ContentDigest(m)
}

// Router is the external dispatch port. Run errors surface as
// EXECUTION_FAILED events with code ROUTER_ERROR; a nil capability set
// means "unknown — skip the capability check".
type Router interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	GetAdapterCapabilities(ctx context.Context, adapterID string) ([]string, error)
}
