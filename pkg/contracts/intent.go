package contracts

import (
	"regexp"

	"github.com/nexus-labs/nexus/core/pkg/canonical"
)

const maxIntentLabels = 32

var (
	labelKeyRe      = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)
	bindingDigestRe = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

// AttestationIntent is a compact, hashable description of what should be
// witnessed on-ledger. It carries no wall-clock time, no secrets, no PII;
// its digest is the queue identity.
type AttestationIntent struct {
	SubjectType    string            `json:"subject_type"`
	BindingDigest  string            `json:"binding_digest"`
	PackageVersion string            `json:"package_version,omitempty"`
	RunID          string            `json:"run_id,omitempty"`
	Env            string            `json:"env,omitempty"`
	Tenant         string            `json:"tenant,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// NewIntent validates and constructs an AttestationIntent.
func NewIntent(subjectType, bindingDigest string, opts ...IntentOption) (*AttestationIntent, error) {
	in := &AttestationIntent{SubjectType: subjectType, BindingDigest: bindingDigest}
	for _, opt := range opts {
		opt(in)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// IntentOption sets an optional intent field at construction time.
type IntentOption func(*AttestationIntent)

func WithPackageVersion(v string) IntentOption {
	return func(i *AttestationIntent) { i.PackageVersion = v }
}

func WithRunID(id string) IntentOption { return func(i *AttestationIntent) { i.RunID = id } }
func WithEnv(env string) IntentOption  { return func(i *AttestationIntent) { i.Env = env } }
func WithTenant(t string) IntentOption { return func(i *AttestationIntent) { i.Tenant = t } }

func WithLabels(labels map[string]string) IntentOption {
	return func(i *AttestationIntent) { i.Labels = labels }
}

// Validate enforces the intent invariants: digest shape, label key charset
// and length, value size, and label count.
func (i *AttestationIntent) Validate() error {
	if i.SubjectType == "" {
		return Errf(CodeInvalidIntent, "subject_type is required")
	}
	if !bindingDigestRe.MatchString(i.BindingDigest) {
		return Errf(CodeInvalidIntent, "binding_digest must be sha256:<64 lowercase hex>")
	}
	if len(i.Labels) > maxIntentLabels {
		return Errf(CodeInvalidIntent, "at most %d labels allowed, got %d", maxIntentLabels, len(i.Labels))
	}
	for k, v := range i.Labels {
		if !labelKeyRe.MatchString(k) {
			return Errf(CodeInvalidIntent, "invalid label key %q", k)
		}
		if len(v) > 256 {
			return Errf(CodeInvalidIntent, "label %q value exceeds 256 bytes", k)
		}
		for _, r := range v {
			if r < 0x20 || r == 0x7f {
				return Errf(CodeInvalidIntent, "label %q value contains control characters", k)
			}
		}
	}
	return nil
}

// Digest returns the bare 64-hex SHA-256 of the canonical intent dict.
// Empty optional fields are omitted; label keys sort canonically.
func (i *AttestationIntent) Digest() (string, error) {
	m := map[string]any{
		"subject_type":   i.SubjectType,
		"binding_digest": i.BindingDigest,
	}
	if i.PackageVersion != "" {
		m["package_version"] = i.PackageVersion
	}
	if i.RunID != "" {
		m["run_id"] = i.RunID
	}
	if i.Env != "" {
		m["env"] = i.Env
	}
	if i.Tenant != "" {
		m["tenant"] = i.Tenant
	}
	if len(i.Labels) > 0 {
		m["labels"] = i.Labels
	}
	return canonical.ContentDigest(m)
}

// QueueID returns the prefixed digest used as the queue identity.
func (i *AttestationIntent) QueueID() (string, error) {
	d, err := i.Digest()
	if err != nil {
		return "", err
	}
	return canonical.DigestPrefix + d, nil
}
