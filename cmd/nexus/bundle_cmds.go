package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nexus-labs/nexus/core/pkg/audit"
	"github.com/nexus-labs/nexus/core/pkg/bundle"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var id, out string
	cmd.StringVar(&id, "id", "", "Decision id (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Output path (default stdout)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	b, err := e.exporter.Export(context.Background(), id)
	if err != nil {
		return fail(stderr, err)
	}
	raw, err := bundle.Render(b)
	if err != nil {
		return fail(stderr, err)
	}
	if out == "" {
		_, _ = fmt.Fprintln(stdout, string(raw))
		return 0
	}
	if err := os.WriteFile(out, raw, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing %s: %v\n", out, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "exported %s (%s)\n", id, b.Integrity.CanonicalDigest)
	return 0
}

func runImportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("import", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		file, onConflict     string
		skipVerify, noReplay bool
	)
	cmd.StringVar(&file, "file", "", "Bundle JSON path (REQUIRED)")
	cmd.StringVar(&onConflict, "on-conflict", bundle.ConflictReject, "reject_on_conflict | new_decision_id | overwrite")
	cmd.BoolVar(&skipVerify, "skip-verify", false, "Skip canonical digest verification")
	cmd.BoolVar(&noReplay, "no-replay", false, "Skip replay validation after import")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading %s: %v\n", file, err)
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	res, err := bundle.NewImporter(e.events).Import(context.Background(), raw, bundle.ImportOptions{
		ConflictMode:      onConflict,
		VerifyDigest:      !skipVerify,
		ReplayAfterImport: !noReplay,
	})
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, res)
	return 0
}

func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: nexus audit <build|verify> [flags]")
		return 2
	}
	switch args[0] {
	case "build":
		return runAuditBuild(args[1:], stdout, stderr)
	case "verify":
		return runAuditVerify(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown audit subcommand: %s\n", args[0])
		return 2
	}
}

func runAuditBuild(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit build", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var id, out, routerDigest, routerBundlePath string
	cmd.StringVar(&id, "id", "", "Decision id (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Output path (default stdout)")
	cmd.StringVar(&routerDigest, "router-digest", "", "Override the referenced router bundle digest")
	cmd.StringVar(&routerBundlePath, "router-bundle", "", "Embed a router bundle JSON file instead of referencing")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	opts := audit.DefaultBuildOptions()
	opts.RouterBundleDigest = routerDigest
	if routerBundlePath != "" {
		raw, err := os.ReadFile(routerBundlePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error reading %s: %v\n", routerBundlePath, err)
			return 2
		}
		var rb map[string]any
		if err := json.Unmarshal(raw, &rb); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error parsing router bundle: %v\n", err)
			return 2
		}
		opts.Mode = audit.ModeEmbedded
		opts.RouterBundle = rb
	}

	pkg, err := audit.NewBuilder(e.exporter).Build(context.Background(), id, opts)
	if err != nil {
		return fail(stderr, err)
	}
	if out == "" {
		writeJSON(stdout, pkg)
		return 0
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fail(stderr, err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing %s: %v\n", out, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "audit package written: %s (%s)\n", out, pkg.Integrity.BindingDigest)
	return 0
}

func runAuditVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var file string
	cmd.StringVar(&file, "file", "", "Audit package JSON path (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading %s: %v\n", file, err)
		return 2
	}
	var pkg contracts.AuditPackage
	if err := json.Unmarshal(raw, &pkg); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error parsing audit package: %v\n", err)
		return 2
	}

	report := audit.Verify(&pkg)
	writeJSON(stdout, report)
	if !report.OK {
		return 1
	}
	return 0
}
