package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/store"
	"github.com/nexus-labs/nexus/core/pkg/xrpl"
)

func runAttestCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: nexus attest <enqueue|status|replay|worker> [flags]")
		return 2
	}
	switch args[0] {
	case "enqueue":
		return runAttestEnqueue(args[1:], stdout, stderr)
	case "status":
		return runAttestStatus(args[1:], stdout, stderr)
	case "replay":
		return runAttestReplay(args[1:], stdout, stderr)
	case "worker":
		return runAttestWorker(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown attest subcommand: %s\n", args[0])
		return 2
	}
}

func runAttestEnqueue(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("attest enqueue", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var bindingDigest, subjectType, runID, envName, tenant, pkgVersion, labels string
	cmd.StringVar(&bindingDigest, "binding-digest", "", "Digest the attestation binds to (REQUIRED)")
	cmd.StringVar(&subjectType, "subject-type", "audit_package", "Subject kind the digest covers")
	cmd.StringVar(&runID, "run-id", "", "Optional run id")
	cmd.StringVar(&envName, "env", "", "Optional environment tag")
	cmd.StringVar(&tenant, "tenant", "", "Optional tenant tag")
	cmd.StringVar(&pkgVersion, "package-version", "", "Optional package version")
	cmd.StringVar(&labels, "labels", "", "Comma-separated key=value labels")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bindingDigest == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --binding-digest is required")
		return 2
	}

	var opts []contracts.IntentOption
	if runID != "" {
		opts = append(opts, contracts.WithRunID(runID))
	}
	if envName != "" {
		opts = append(opts, contracts.WithEnv(envName))
	}
	if tenant != "" {
		opts = append(opts, contracts.WithTenant(tenant))
	}
	if pkgVersion != "" {
		opts = append(opts, contracts.WithPackageVersion(pkgVersion))
	}
	if lm := parseLabelMap(labels); len(lm) > 0 {
		opts = append(opts, contracts.WithLabels(lm))
	}

	intent, err := contracts.NewIntent(subjectType, bindingDigest, opts...)
	if err != nil {
		return fail(stderr, err)
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	queueID, err := e.queue.Enqueue(context.Background(), intent)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, map[string]any{"queue_id": queueID})
	return 0
}

func runAttestStatus(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("attest status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var queueID string
	cmd.StringVar(&queueID, "queue-id", "", "Queue id from enqueue (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if queueID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --queue-id is required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	summary, err := e.queue.GetStatus(context.Background(), queueID)
	if err != nil {
		return fail(stderr, err)
	}
	if summary == nil {
		_, _ = fmt.Fprintf(stderr, "Unknown queue id: %s\n", queueID)
		return 1
	}
	writeJSON(stdout, summary)
	return 0
}

func runAttestReplay(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("attest replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var intentDigest string
	cmd.StringVar(&intentDigest, "intent-digest", "", "Intent digest (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if intentDigest == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --intent-digest is required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	trail, err := e.queue.Replay(context.Background(), intentDigest)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, trail)
	return 0
}

func runAttestWorker(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("attest worker", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		cycles int
		once   bool
	)
	cmd.IntVar(&cycles, "cycles", 0, "Process this many cycles then exit (0 = run until interrupted)")
	cmd.BoolVar(&once, "once", false, "Process a single cycle and exit")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if once {
		cycles = 1
	}

	signerURL := os.Getenv("NEXUS_SIGNER_URL")
	if signerURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: NEXUS_SIGNER_URL is required for the worker")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	if e.cfg.XRPL.Account == "" || e.cfg.XRPL.KeyID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: NEXUS_XRPL_ACCOUNT and NEXUS_XRPL_KEY_ID are required for the worker")
		return 2
	}

	client := xrpl.NewHTTPClient(e.cfg.XRPL.Endpoint,
		xrpl.WithRateLimit(e.cfg.XRPL.RateLimit, e.cfg.XRPL.RateBurst),
		xrpl.WithEvidence(store.NewBodyStore(e.cfg.BodyRoot), store.NewExchangeStore(e.store)),
	)
	signer := newHTTPSigner(signerURL, e.cfg.XRPL.Account, e.cfg.XRPL.KeyID)
	worker := xrpl.NewWorker(e.queue, client, signer)
	logger := slog.Default().With("component", "attest_worker")

	ctx := context.Background()
	interval := time.Duration(e.cfg.Worker.IntervalSeconds) * time.Second
	processed := 0
	for cycle := 0; cycles == 0 || cycle < cycles; cycle++ {
		opCtx, done := e.obs.TrackOperation(ctx, "attest.process_one")
		receipts, err := worker.ProcessOne(opCtx)
		done(err)
		if err != nil {
			logger.Error("cycle failed", "cycle", cycle, "error", err)
			_, _ = fmt.Fprintf(stderr, "Error [%s]: %v\n", contracts.ErrCode(err), err)
			return 1
		}
		if receipts == nil {
			if cycles == 0 {
				time.Sleep(interval)
				continue
			}
			break
		}
		processed++
		for _, r := range receipts {
			e.obs.RecordReceipt(opCtx, string(r.Status))
			logger.Info("receipt recorded",
				"intent_digest", r.IntentDigest, "status", r.Status, "attempt", r.Attempt)
		}
	}
	_, _ = fmt.Fprintf(stdout, "processed %d intent(s)\n", processed)
	return 0
}

// parseLabelMap parses "k=v,k2=v2" into a map; entries without '=' are
// treated as flags with an empty value.
func parseLabelMap(s string) map[string]string {
	out := map[string]string{}
	for _, part := range splitList(s) {
		k, v := part, ""
		for i := 0; i < len(part); i++ {
			if part[i] == '=' {
				k, v = part[:i], part[i+1:]
				break
			}
		}
		if k != "" {
			out[k] = v
		}
	}
	return out
}
