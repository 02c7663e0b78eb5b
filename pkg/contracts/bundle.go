package contracts

// BundleVersion is the current decision bundle wire version.
const BundleVersion = "0.5"

// PackageVersion is the current audit package wire version.
const PackageVersion = "1.0"

// DecisionBundle is the portable, deterministic rendering of one decision
// and its full event log. Two systems holding the same event log must
// produce byte-identical canonical bundles.
//
// Timestamps are RFC3339 strings, not time.Time: the bundle is a wire
// artifact and its canonical bytes must not depend on parsing behavior.
type DecisionBundle struct {
	BundleVersion    string                 `json:"bundle_version"`
	Decision         BundleDecision         `json:"decision"`
	Events           []BundleEvent          `json:"events"`
	TemplateSnapshot BundleTemplateSnapshot `json:"template_snapshot"`
	RouterLink       *BundleRouterLink      `json:"router_link"`
	Integrity        Integrity              `json:"integrity"`
	Provenance       Provenance             `json:"provenance"`
	Meta             BundleMeta             `json:"meta"`
}

// BundleDecision is the decision header inside a bundle.
type BundleDecision struct {
	DecisionID string `json:"decision_id"`
	Goal       string `json:"goal,omitempty"`
	Mode       string `json:"mode"`
	CreatedAt  string `json:"created_at"`
	Status     string `json:"status"`
}

// BundleEvent is one event in portable form.
type BundleEvent struct {
	EventID    string         `json:"event_id"`
	DecisionID string         `json:"decision_id"`
	Seq        int64          `json:"seq"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	TS         string         `json:"ts"`
	Actor      Actor          `json:"actor"`
	Digest     string         `json:"digest"`
}

// BundleTemplateSnapshot carries the template the decision's policy came
// from, when one was used.
type BundleTemplateSnapshot struct {
	Present   bool           `json:"present"`
	Name      string         `json:"name,omitempty"`
	Digest    string         `json:"digest,omitempty"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	Overrides []string       `json:"overrides,omitempty"`
}

// BundleRouterLink is the portable proof that this decision authorized a
// specific router run.
type BundleRouterLink struct {
	RunID                   string `json:"run_id,omitempty"`
	AdapterID               string `json:"adapter_id,omitempty"`
	RouterRequestDigest     string `json:"router_request_digest,omitempty"`
	RouterResultDigest      string `json:"router_result_digest,omitempty"`
	ControlRouterLinkDigest string `json:"control_router_link_digest,omitempty"`
}

// Integrity holds the digest binding for a bundle or package.
type Integrity struct {
	Alg             string `json:"alg"`
	CanonicalDigest string `json:"canonical_digest,omitempty"`
	BindingDigest   string `json:"binding_digest,omitempty"`
}

// ProvenanceRecord documents one derivation step.
type ProvenanceRecord struct {
	ProvID   string   `json:"prov_id"`
	MethodID string   `json:"method_id"`
	Inputs   []string `json:"inputs"`
	Outputs  []string `json:"outputs"`
}

// Provenance lists the derivation records for an artifact. It is inside
// the serialized form but outside every digest input.
type Provenance struct {
	Records []ProvenanceRecord `json:"records"`
}

// BundleMeta carries non-canonical metadata; exported_at differs between
// two exports of the same decision while their digests do not.
type BundleMeta struct {
	ExportedAt string `json:"exported_at"`
}

// RouterSection embeds or references the router-side execution bundle
// inside an audit package.
type RouterSection struct {
	Mode   string         `json:"mode"` // "reference" or "embedded"
	Ref    *RouterRef     `json:"ref,omitempty"`
	Bundle map[string]any `json:"bundle,omitempty"`
}

// RouterRef points at a router bundle by run id and digest.
type RouterRef struct {
	RunID  string `json:"run_id"`
	Digest string `json:"digest"`
}

// Binding ties the control and router digests together; its digest is the
// root of verification for an audit package.
type Binding struct {
	ControlDigest           string `json:"control_digest"`
	RouterDigest            string `json:"router_digest"`
	ControlRouterLinkDigest string `json:"control_router_link_digest"`
}

// AuditPackage binds a decision bundle to a router execution bundle for
// third-party verification.
type AuditPackage struct {
	PackageVersion string         `json:"package_version"`
	ControlBundle  DecisionBundle `json:"control_bundle"`
	Router         RouterSection  `json:"router"`
	Binding        Binding        `json:"binding"`
	Integrity      Integrity      `json:"integrity"`
	Provenance     Provenance     `json:"provenance"`
	Meta           BundleMeta     `json:"meta"`
}
