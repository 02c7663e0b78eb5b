// Package audit binds decision bundles to router execution bundles and
// verifies the resulting packages check by check.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/bundle"
	"github.com/nexus-labs/nexus/core/pkg/canonical"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// Router section modes.
const (
	ModeReference = "reference"
	ModeEmbedded  = "embedded"
)

// BuildOptions select how the router side enters the package.
type BuildOptions struct {
	Mode string
	// RouterBundleDigest overrides the digest in reference mode; when empty
	// the control bundle's router_result_digest is used.
	RouterBundleDigest string
	// RouterBundle is the full router bundle dict for embedded mode.
	RouterBundle map[string]any
	// VerifyRouterBundleDigest requires the embedded bundle's own digest to
	// match the control side's recorded router_result_digest.
	VerifyRouterBundleDigest bool
}

// DefaultBuildOptions build a reference-mode package.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{Mode: ModeReference, VerifyRouterBundleDigest: true}
}

// Builder assembles audit packages from exported decisions.
type Builder struct {
	exporter *bundle.Exporter
	clock    func() time.Time
}

func NewBuilder(exporter *bundle.Exporter) *Builder {
	return &Builder{exporter: exporter, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build exports the decision and binds it to the router execution named by
// its router link. Decisions that never executed cannot be packaged.
func (b *Builder) Build(ctx context.Context, decisionID string, opts BuildOptions) (*contracts.AuditPackage, error) {
	control, err := b.exporter.Export(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	link := control.RouterLink
	if link == nil || link.RunID == "" {
		return nil, contracts.Errf(contracts.CodeNoRouterLink,
			"decision %s has no router execution to bind", decisionID)
	}

	var router contracts.RouterSection
	var routerDigest string
	switch opts.Mode {
	case ModeReference:
		routerDigest = opts.RouterBundleDigest
		if routerDigest == "" {
			routerDigest = link.RouterResultDigest
		}
		router = contracts.RouterSection{
			Mode: ModeReference,
			Ref:  &contracts.RouterRef{RunID: link.RunID, Digest: routerDigest},
		}
	case ModeEmbedded:
		embedded := embeddedDigest(opts.RouterBundle)
		if opts.VerifyRouterBundleDigest && embedded != link.RouterResultDigest {
			return nil, &contracts.CodedError{
				Code:    contracts.CodeRouterDigestMismatch,
				Message: "embedded router bundle digest does not match recorded router result digest",
				Details: map[string]any{"expected": link.RouterResultDigest, "actual": embedded},
			}
		}
		routerDigest = embedded
		router = contracts.RouterSection{Mode: ModeEmbedded, Bundle: opts.RouterBundle}
	default:
		return nil, contracts.Errf(contracts.CodeRouterDigestMismatch, "unknown router mode %q", opts.Mode)
	}

	binding := contracts.Binding{
		ControlDigest:           control.Integrity.CanonicalDigest,
		RouterDigest:            routerDigest,
		ControlRouterLinkDigest: link.ControlRouterLinkDigest,
	}
	bindingDigest, err := BindingDigest(contracts.PackageVersion, binding)
	if err != nil {
		return nil, err
	}

	pkg := &contracts.AuditPackage{
		PackageVersion: contracts.PackageVersion,
		ControlBundle:  *control,
		Router:         router,
		Binding:        binding,
		Integrity:      contracts.Integrity{Alg: "sha256", BindingDigest: bindingDigest},
		Provenance: contracts.Provenance{Records: []contracts.ProvenanceRecord{{
			ProvID:   packageProvID(decisionID, bindingDigest),
			MethodID: "nexus.audit.build",
			Inputs:   []string{binding.ControlDigest, binding.RouterDigest},
			Outputs:  []string{bindingDigest},
		}}},
		Meta: contracts.BundleMeta{ExportedAt: b.clock().UTC().Format(time.RFC3339Nano)},
	}
	return pkg, nil
}

// BindingDigest computes the root digest of an audit package.
func BindingDigest(packageVersion string, binding contracts.Binding) (string, error) {
	return canonical.PrefixedDigest(map[string]any{
		"package_version":            packageVersion,
		"control_digest":             binding.ControlDigest,
		"router_digest":              binding.RouterDigest,
		"control_router_link_digest": binding.ControlRouterLinkDigest,
	})
}

// embeddedDigest pulls integrity.canonical_digest out of a router bundle
// dict; empty string when absent.
func embeddedDigest(routerBundle map[string]any) string {
	integrity, ok := routerBundle["integrity"].(map[string]any)
	if !ok {
		return ""
	}
	digest, _ := integrity["canonical_digest"].(string)
	return digest
}

func packageProvID(decisionID, bindingDigest string) string {
	h := sha256.Sum256([]byte(decisionID + ":" + bindingDigest))
	return "prov_" + hex.EncodeToString(h[:])[:12]
}
