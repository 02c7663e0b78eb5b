package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

func runTemplateCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: nexus template <create|show|list> [flags]")
		return 2
	}
	switch args[0] {
	case "create":
		return runTemplateCreate(args[1:], stdout, stderr)
	case "show":
		return runTemplateShow(args[1:], stdout, stderr)
	case "list":
		return runTemplateList(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown template subcommand: %s\n", args[0])
		return 2
	}
}

func runTemplateCreate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("template create", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		name, description, actorSpec string
		modes, caps, labels          string
		minApprovals, maxSteps       int
	)
	cmd.StringVar(&name, "name", "", "Template name (REQUIRED)")
	cmd.StringVar(&description, "description", "", "What this template is for")
	cmd.StringVar(&actorSpec, "actor", "", "Creating identity (REQUIRED)")
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
	if name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --name is required")
		return 2
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

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	tpl, err := e.registry.Create(context.Background(), name, description, policy, actor)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, tpl)
	return 0
}

func runTemplateShow(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("template show", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var name string
	cmd.StringVar(&name, "name", "", "Template name (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --name is required")
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	tpl, err := e.registry.Get(context.Background(), name)
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, tpl)
	return 0
}

func runTemplateList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("template list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	e, closeEnv, code := openEnv(stderr)
	if code != 0 {
		return code
	}
	defer closeEnv()

	list, err := e.registry.List(context.Background())
	if err != nil {
		return fail(stderr, err)
	}
	writeJSON(stdout, list)
	return 0
}
