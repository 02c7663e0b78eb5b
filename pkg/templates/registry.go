// Package templates manages named, immutable policy templates. A template
// is created once by a TEMPLATE_CREATED event and applied to decisions with
// optional per-field overrides; the applied policy records which fields the
// creator overrode.
package templates

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/store"
)

var templateNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// Template is a named, immutable policy preset.
type Template struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Policy      contracts.Policy `json:"policy"`
	CreatedAt   time.Time        `json:"created_at"`
	CreatedBy   contracts.Actor  `json:"created_by"`
	Digest      string           `json:"digest"`
}

// Dict is the canonical public shape of a template; its digest is the
// template identity.
func (t *Template) Dict() map[string]any {
	m := map[string]any{
		"name":                         t.Name,
		"description":                  t.Description,
		"min_approvals":                t.Policy.MinApprovals,
		"allowed_modes":                t.Policy.AllowedModes,
		"require_adapter_capabilities": t.Policy.RequireAdapterCapabilities,
		"labels":                       t.Policy.Labels,
	}
	if t.Policy.MaxSteps != nil {
		m["max_steps"] = *t.Policy.MaxSteps
	}
	return m
}

// ComputeDigest returns the prefixed digest of the canonical template dict.
func (t *Template) ComputeDigest() (string, error) {
	return canonical.PrefixedDigest(t.Dict())
}

// Overrides are the per-decision adjustments applied on top of a template.
// Nil/empty fields leave the template's value in place.
type Overrides struct {
	MinApprovals               *int
	AllowedModes               []contracts.Mode
	RequireAdapterCapabilities []string
	MaxSteps                   *int
	Labels                     []string
}

// Registry persists templates and their creation events.
type Registry struct {
	store  *store.Store
	clock  func() time.Time
	logger *slog.Logger
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{
		store:  s,
		clock:  time.Now,
		logger: slog.Default().With("component", "templates"),
	}
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Create registers a new template. Names are single-segment identifiers;
// re-creating an existing name fails rather than mutating it.
func (r *Registry) Create(ctx context.Context, name, description string, policy contracts.Policy, actor contracts.Actor) (*Template, error) {
	if !templateNameRe.MatchString(name) {
		return nil, contracts.Errf(contracts.CodeInvalidPolicy,
			"template name must match [a-zA-Z0-9._-]{1,64}, got %q", name)
	}
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

	tpl := &Template{
		Name:        name,
		Description: description,
		Policy:      policy,
		CreatedAt:   r.clock().UTC(),
		CreatedBy:   actor,
	}
	digest, err := tpl.ComputeDigest()
	if err != nil {
		return nil, err
	}
	tpl.Digest = digest

	payload, err := contracts.PayloadMap(contracts.TemplateCreatedPayload{
		Name:                       name,
		Description:                description,
		MinApprovals:               policy.MinApprovals,
		AllowedModes:               policy.AllowedModes,
		RequireAdapterCapabilities: policy.RequireAdapterCapabilities,
		MaxSteps:                   policy.MaxSteps,
		Labels:                     policy.Labels,
	})
	if err != nil {
		return nil, err
	}
	eventDigest, err := contracts.EventDigest(contracts.EventTemplateCreated, payload)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	modesJSON, _ := json.Marshal(policy.AllowedModes)
	capsJSON, _ := json.Marshal(policy.RequireAdapterCapabilities)
	labelsJSON, _ := json.Marshal(policy.Labels)

	tx, err := r.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin template create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	row := tx.QueryRowContext(ctx, r.store.Q(`SELECT COUNT(1) FROM templates WHERE name = ?`), name)
	if err := row.Scan(&exists); err != nil {
		return nil, fmt.Errorf("template existence check: %w", err)
	}
	if exists > 0 {
		return nil, contracts.Errf(contracts.CodeTemplateExists, "template %q already exists", name)
	}

	var maxSteps sql.NullInt64
	if policy.MaxSteps != nil {
		maxSteps = sql.NullInt64{Int64: int64(*policy.MaxSteps), Valid: true}
	}
	ts := tpl.CreatedAt.Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, r.store.Q(
		`INSERT INTO templates
			(name, description, min_approvals, allowed_modes, require_adapter_capabilities,
			 max_steps, labels, created_at, created_by_type, created_by_id, digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		name, description, policy.MinApprovals, string(modesJSON), string(capsJSON),
		maxSteps, string(labelsJSON), ts, string(actor.Type), actor.ID, digest); err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.store.Q(
		`INSERT INTO template_events
			(template_name, seq, event_type, ts, actor_type, actor_id, payload_json, digest)
		 VALUES (?, 0, ?, ?, ?, ?, ?, ?)`),
		name, string(contracts.EventTemplateCreated), ts,
		string(actor.Type), actor.ID, string(payloadJSON), eventDigest); err != nil {
		return nil, fmt.Errorf("insert template event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit template create: %w", err)
	}

	r.logger.InfoContext(ctx, "template created", "name", name, "digest", digest)
	return tpl, nil
}

// Get fetches a template by name.
func (r *Registry) Get(ctx context.Context, name string) (*Template, error) {
	row := r.store.DB().QueryRowContext(ctx, r.store.Q(
		`SELECT name, description, min_approvals, allowed_modes, require_adapter_capabilities,
			max_steps, labels, created_at, created_by_type, created_by_id, digest
		 FROM templates WHERE name = ?`), name)
	tpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, contracts.Errf(contracts.CodeTemplateNotFound, "template %q not found", name)
	}
	return tpl, err
}

// List returns all templates ordered by name.
func (r *Registry) List(ctx context.Context) ([]*Template, error) {
	rows, err := r.store.DB().QueryContext(ctx, r.store.Q(
		`SELECT name, description, min_approvals, allowed_modes, require_adapter_capabilities,
			max_steps, labels, created_at, created_by_type, created_by_id, digest
		 FROM templates ORDER BY name ASC`))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// Apply resolves a template plus overrides into the POLICY_ATTACHED payload,
// carrying the template reference, its snapshot, and the override list.
func (r *Registry) Apply(ctx context.Context, name string, ov Overrides) (*contracts.PolicyAttachedPayload, error) {
	tpl, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	policy := tpl.Policy
	var applied []string
	if ov.MinApprovals != nil {
		policy.MinApprovals = *ov.MinApprovals
		applied = append(applied, "min_approvals")
	}
	if ov.AllowedModes != nil {
		policy.AllowedModes = ov.AllowedModes
		applied = append(applied, "allowed_modes")
	}
	if ov.RequireAdapterCapabilities != nil {
		policy.RequireAdapterCapabilities = ov.RequireAdapterCapabilities
		applied = append(applied, "require_adapter_capabilities")
	}
	if ov.MaxSteps != nil {
		policy.MaxSteps = ov.MaxSteps
		applied = append(applied, "max_steps")
	}
	if ov.Labels != nil {
		policy.Labels = ov.Labels
		applied = append(applied, "labels")
	}
	sort.Strings(applied)
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	// Snapshot keeps the pre-override template so auditors can diff.
	snapshot, err := contracts.PayloadMap(tpl.Dict())
	if err != nil {
		return nil, err
	}
	return &contracts.PolicyAttachedPayload{
		MinApprovals:               policy.MinApprovals,
		AllowedModes:               policy.AllowedModes,
		RequireAdapterCapabilities: policy.RequireAdapterCapabilities,
		MaxSteps:                   policy.MaxSteps,
		Labels:                     policy.Labels,
		TemplateName:               tpl.Name,
		TemplateDigest:             tpl.Digest,
		TemplateSnapshot:           snapshot,
		OverridesApplied:           applied,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		name, description, modesJSON, capsJSON, labelsJSON string
		createdAt, actorType, actorID, digest              string
		minApprovals                                       int
		maxSteps                                           sql.NullInt64
	)
	if err := row.Scan(&name, &description, &minApprovals, &modesJSON, &capsJSON,
		&maxSteps, &labelsJSON, &createdAt, &actorType, &actorID, &digest); err != nil {
		return nil, err
	}

	policy := contracts.Policy{MinApprovals: minApprovals}
	if err := json.Unmarshal([]byte(modesJSON), &policy.AllowedModes); err != nil {
		return nil, fmt.Errorf("corrupt allowed_modes for %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(capsJSON), &policy.RequireAdapterCapabilities); err != nil {
		return nil, fmt.Errorf("corrupt capabilities for %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(labelsJSON), &policy.Labels); err != nil {
		return nil, fmt.Errorf("corrupt labels for %s: %w", name, err)
	}
	if maxSteps.Valid {
		v := int(maxSteps.Int64)
		policy.MaxSteps = &v
	}

	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	return &Template{
		Name:        name,
		Description: description,
		Policy:      policy,
		CreatedAt:   created,
		CreatedBy:   contracts.Actor{Type: contracts.ActorType(actorType), ID: actorID},
		Digest:      digest,
	}, nil
}
