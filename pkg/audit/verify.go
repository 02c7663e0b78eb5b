package audit

import (
	"github.com/nexus-labs/nexus/core/pkg/bundle"
	"github.com/nexus-labs/nexus/core/pkg/canonical"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// Check is one verification step's outcome.
type Check struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyReport aggregates the full checklist. Every check always runs; one
// failure never short-circuits the rest.
type VerifyReport struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// Verify runs the fixed audit-package checklist.
func Verify(pkg *contracts.AuditPackage) *VerifyReport {
	report := &VerifyReport{OK: true}
	add := func(c Check) {
		if !c.OK {
			report.OK = false
		}
		report.Checks = append(report.Checks, c)
	}

	// 1. The binding digest is recomputable from the package fields.
	computedBinding, err := BindingDigest(pkg.PackageVersion, pkg.Binding)
	if err != nil {
		add(Check{Name: "binding_digest", OK: false, Reason: err.Error()})
	} else {
		add(Check{
			Name:     "binding_digest",
			OK:       computedBinding == pkg.Integrity.BindingDigest,
			Expected: pkg.Integrity.BindingDigest,
			Actual:   computedBinding,
		})
	}

	// 2. The control bundle's own digest is recomputable.
	computedControl, err := bundle.ComputeDigest(&pkg.ControlBundle)
	if err != nil {
		add(Check{Name: "control_bundle_digest", OK: false, Reason: err.Error()})
	} else {
		add(Check{
			Name:     "control_bundle_digest",
			OK:       computedControl == pkg.ControlBundle.Integrity.CanonicalDigest,
			Expected: pkg.ControlBundle.Integrity.CanonicalDigest,
			Actual:   computedControl,
		})
	}

	// 3. The binding points at this control bundle.
	add(Check{
		Name:     "binding_control_match",
		OK:       pkg.Binding.ControlDigest == pkg.ControlBundle.Integrity.CanonicalDigest,
		Expected: pkg.ControlBundle.Integrity.CanonicalDigest,
		Actual:   pkg.Binding.ControlDigest,
	})

	// 4. The binding points at the router side carried by the package.
	switch pkg.Router.Mode {
	case ModeReference:
		refDigest := ""
		if pkg.Router.Ref != nil {
			refDigest = pkg.Router.Ref.Digest
		}
		add(Check{
			Name:     "binding_router_match",
			OK:       pkg.Binding.RouterDigest == refDigest,
			Expected: refDigest,
			Actual:   pkg.Binding.RouterDigest,
		})
	case ModeEmbedded:
		embedded := embeddedDigest(pkg.Router.Bundle)
		add(Check{
			Name:     "binding_router_match",
			OK:       pkg.Binding.RouterDigest == embedded,
			Expected: embedded,
			Actual:   pkg.Binding.RouterDigest,
		})
	default:
		add(Check{Name: "binding_router_match", OK: false, Reason: "unknown router mode " + pkg.Router.Mode})
	}

	// 5. The binding's link digest matches the control bundle's router link.
	linkDigest := ""
	if pkg.ControlBundle.RouterLink != nil {
		linkDigest = pkg.ControlBundle.RouterLink.ControlRouterLinkDigest
	}
	add(Check{
		Name:     "binding_link_match",
		OK:       pkg.Binding.ControlRouterLinkDigest == linkDigest,
		Expected: linkDigest,
		Actual:   pkg.Binding.ControlRouterLinkDigest,
	})

	// 6. Embedded router bundles must digest to their claimed integrity.
	if pkg.Router.Mode == ModeEmbedded {
		claimed := embeddedDigest(pkg.Router.Bundle)
		recomputed, err := recomputeEmbeddedDigest(pkg.Router.Bundle)
		if err != nil {
			add(Check{Name: "router_bundle_digest", OK: false, Reason: err.Error()})
		} else {
			add(Check{
				Name:     "router_bundle_digest",
				OK:       recomputed == claimed,
				Expected: claimed,
				Actual:   recomputed,
			})
		}
	}

	return report
}

// recomputeEmbeddedDigest hashes the embedded router bundle's content the
// same way the router side does: everything except integrity, provenance
// and meta.
func recomputeEmbeddedDigest(routerBundle map[string]any) (string, error) {
	content := make(map[string]any, len(routerBundle))
	for k, v := range routerBundle {
		switch k {
		case "integrity", "provenance", "meta":
			continue
		}
		content[k] = v
	}
	return canonical.PrefixedDigest(content)
}
