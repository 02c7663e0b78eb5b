package contracts

// Mode is the requested execution mode for a decision.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeApply  Mode = "apply"
)

// ValidMode reports whether m is a recognized execution mode.
func ValidMode(m Mode) bool {
	return m == ModeDryRun || m == ModeApply
}

// Policy is the governance policy attached to a decision.
type Policy struct {
	MinApprovals               int      `json:"min_approvals"`
	AllowedModes               []Mode   `json:"allowed_modes"`
	RequireAdapterCapabilities []string `json:"require_adapter_capabilities"`
	MaxSteps                   *int     `json:"max_steps,omitempty"`
	Labels                     []string `json:"labels"`
}

// Validate enforces the structural policy invariants.
func (p *Policy) Validate() error {
	if p.MinApprovals < 1 {
		return Errf(CodeInvalidPolicy, "min_approvals must be >= 1, got %d", p.MinApprovals)
	}
	if p.MaxSteps != nil && *p.MaxSteps < 1 {
		return Errf(CodeInvalidPolicy, "max_steps must be >= 1, got %d", *p.MaxSteps)
	}
	for _, m := range p.AllowedModes {
		if !ValidMode(m) {
			return Errf(CodeInvalidPolicy, "unknown mode %q", m)
		}
	}
	return nil
}

// AllowsMode reports whether mode is permitted by the policy. An empty
// allowed_modes list permits every mode.
func (p *Policy) AllowsMode(mode Mode) bool {
	if len(p.AllowedModes) == 0 {
		return true
	}
	for _, m := range p.AllowedModes {
		if m == mode {
			return true
		}
	}
	return false
}

// TemplateRef links a decision's policy back to the template it came from.
type TemplateRef struct {
	Name             string         `json:"name"`
	Digest           string         `json:"digest"`
	Snapshot         map[string]any `json:"snapshot,omitempty"`
	OverridesApplied []string       `json:"overrides_applied,omitempty"`
}
