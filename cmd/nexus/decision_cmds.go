package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/templates"
)

func runDecisionCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: nexus decision <create|policy|approve|revoke|execute|show> [flags]")
		return 2
	}
	switch args[0] {
	case "create":
		return runDecisionCreate(args[1:], stdout, stderr)
	case "policy":
		return runDecisionPolicy(args[1:], stdout, stderr)
	case "approve":
		return runDecisionApprove(args[1:], stdout, stderr)
	case "revoke":
		return runDecisionRevoke(args[1:], stdout, stderr)
	case "execute":
		return runDecisionExecute(args[1:], stdout, stderr)
	case "show":
		return runDecisionShow(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown decision subcommand: %s\n", args[0])
		return 2
	}
}

func runDecisionCreate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decision create", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		goal, mode, plan, labels, actorSpec string
	)
	cmd.StringVar(&goal, "goal", "", "What this decision authorizes (REQUIRED)")
	cmd.StringVar(&mode, "mode", "dry_run", "Requested mode: dry_run or apply")
	cmd.StringVar(&plan, "plan", "", "Optional execution plan text")
	cmd.StringVar(&labels, "labels", "", "Comma-separated labels")
	cmd.StringVar(&actorSpec, "actor", "", "Acting identity, human:<id> or system:<id> (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	actor, err := parseActor(actorSpec)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	if goal == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --goal is required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	var planPtr *string
	if plan != "" {
		planPtr = &plan
	}
	d, err := e.service().CreateDecision(context.Background(), "", goal, contracts.Mode(mode), planPtr, splitList(labels), actor)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, d)
	return 0
}

func runDecisionPolicy(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decision policy", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		id, actorSpec, template, modes, caps, labels string
		minApprovals, maxSteps                       int
	)
	cmd.StringVar(&id, "id", "", "Decision id (REQUIRED)")
	cmd.StringVar(&actorSpec, "actor", "", "Acting identity (REQUIRED)")
	cmd.StringVar(&template, "template", "", "Apply a named template instead of inline fields")
	cmd.IntVar(&minApprovals, "min-approvals", 1, "Required approval count")
	cmd.StringVar(&modes, "modes", "", "Comma-separated allowed modes (empty allows all)")
	cmd.StringVar(&caps, "require-capabilities", "", "Comma-separated adapter capabilities")
	cmd.StringVar(&labels, "labels", "", "Comma-separated policy labels")
	cmd.IntVar(&maxSteps, "max-steps", 0, "Execution step ceiling (0 = unlimited)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	actor, err := parseActor(actorSpec)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
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
	svc := e.service()
	ctx := context.Background()

	if template != "" {
		ov := templates.Overrides{}
		if minApprovalsFlagSet(cmd) {
			ov.MinApprovals = &minApprovals
		}
		d, err := svc.AttachTemplate(ctx, id, template, ov, actor)
		if err != nil {
			return fail(stderr, err)
		}
		writeJSON(stdout, d)
		return 0
	}

	policy := contracts.Policy{
		MinApprovals:               minApprovals,
		RequireAdapterCapabilities: splitList(caps),
		Labels:                     splitList(labels),
	}
	for _, m := range splitList(modes) {
		policy.AllowedModes = append(policy.AllowedModes, contracts.Mode(m))
	}
	if maxSteps > 0 {
		policy.MaxSteps = &maxSteps
	}
	d, err := svc.AttachPolicy(ctx, id, policy, actor)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, d)
	return 0
}

func minApprovalsFlagSet(cmd *flag.FlagSet) bool {
	set := false
	cmd.Visit(func(f *flag.Flag) {
		if f.Name == "min-approvals" {
			set = true
		}
	})
	return set
}

func runDecisionApprove(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decision approve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		id, actorSpec, comment string
		expiresIn              time.Duration
	)
	cmd.StringVar(&id, "id", "", "Decision id (REQUIRED)")
	cmd.StringVar(&actorSpec, "actor", "", "Approving identity (REQUIRED)")
	cmd.StringVar(&comment, "comment", "", "Optional approval comment")
	cmd.DurationVar(&expiresIn, "expires-in", 0, "Approval lifetime (0 = never expires)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	actor, err := parseActor(actorSpec)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
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

	var expiresAt *time.Time
	if expiresIn > 0 {
		t := time.Now().UTC().Add(expiresIn)
		expiresAt = &t
	}
	var commentPtr *string
	if comment != "" {
		commentPtr = &comment
	}
	d, err := e.service().Approve(context.Background(), id, actor, expiresAt, commentPtr)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, d)
	return 0
}

func runDecisionRevoke(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decision revoke", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var id, actorSpec, reason string
	cmd.StringVar(&id, "id", "", "Decision id (REQUIRED)")
	cmd.StringVar(&actorSpec, "actor", "", "Revoking identity (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Why the approval is withdrawn (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	actor, err := parseActor(actorSpec)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	if id == "" || reason == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id and --reason are required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	d, err := e.service().Revoke(context.Background(), id, actor, reason)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, d)
	return 0
}

func runDecisionExecute(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decision execute", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		id, actorSpec, adapter string
		dryRun                 bool
	)
	cmd.StringVar(&id, "id", "", "Decision id (REQUIRED)")
	cmd.StringVar(&actorSpec, "actor", "", "Requesting identity (REQUIRED)")
	cmd.StringVar(&adapter, "adapter", "", "Router adapter id (REQUIRED)")
	cmd.BoolVar(&dryRun, "dry-run", false, "Dispatch in dry-run mode")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	actor, err := parseActor(actorSpec)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	if id == "" || adapter == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id and --adapter are required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	d, err := e.service().RequestExecution(context.Background(), id, adapter, dryRun, actor)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, d)
	return 0
}

func runDecisionShow(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decision show", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var id string
	cmd.StringVar(&id, "id", "", "Decision id (REQUIRED)")
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
	svc := e.service()
	ctx := context.Background()

	d, err := svc.GetDecision(ctx, id)
	if err != nil {
		return fail(stderr, err)
	}
	lc, err := svc.Lifecycle(ctx, id)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, map[string]any{"decision": d, "lifecycle": lc})
	return 0
}
