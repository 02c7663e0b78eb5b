package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nexus-labs/nexus/core/pkg/bundle"
	"github.com/nexus-labs/nexus/core/pkg/config"
	"github.com/nexus-labs/nexus/core/pkg/contracts"
	"github.com/nexus-labs/nexus/core/pkg/governance"
	"github.com/nexus-labs/nexus/core/pkg/observability"
	"github.com/nexus-labs/nexus/core/pkg/queue"
	"github.com/nexus-labs/nexus/core/pkg/store"
	"github.com/nexus-labs/nexus/core/pkg/templates"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, separated for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "decision":
		return runDecisionCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "import":
		return runImportCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "attest":
		return runAttestCmd(args[2:], stdout, stderr)
	case "template":
		return runTemplateCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "nexus — approval and attestation control plane")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  nexus <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "DECISIONS:")
	fmt.Fprintln(w, "  decision create    Create a decision (--goal, --mode, --actor)")
	fmt.Fprintln(w, "  decision policy    Attach a policy (--id, --min-approvals | --template)")
	fmt.Fprintln(w, "  decision approve   Grant an approval (--id, --actor)")
	fmt.Fprintln(w, "  decision revoke    Revoke an approval (--id, --actor, --reason)")
	fmt.Fprintln(w, "  decision execute   Dispatch to the router (--id, --adapter)")
	fmt.Fprintln(w, "  decision show      Show projection and lifecycle (--id)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "BUNDLES:")
	fmt.Fprintln(w, "  export             Export a decision bundle (--id, --out)")
	fmt.Fprintln(w, "  import             Import a decision bundle (--file, --on-conflict)")
	fmt.Fprintln(w, "  audit build        Build an audit package (--id, --out)")
	fmt.Fprintln(w, "  audit verify       Verify an audit package (--file)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ATTESTATION:")
	fmt.Fprintln(w, "  attest enqueue     Queue an intent (--binding-digest, --subject-type)")
	fmt.Fprintln(w, "  attest status      Show queue status (--queue-id)")
	fmt.Fprintln(w, "  attest replay      Show the receipt trail (--intent-digest)")
	fmt.Fprintln(w, "  attest worker      Run attestation cycles (--cycles)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "TEMPLATES:")
	fmt.Fprintln(w, "  template create    Create a policy template (--name, --min-approvals)")
	fmt.Fprintln(w, "  template show      Show a template (--name)")
	fmt.Fprintln(w, "  template list      List templates")
	fmt.Fprintln(w, "")
}

// env bundles the wired runtime a subcommand needs.
type env struct {
	cfg      *config.Config
	store    *store.Store
	events   *store.EventStore
	queue    *queue.Queue
	registry *templates.Registry
	exporter *bundle.Exporter
	obs      *observability.Provider
}

func openEnv(stderr io.Writer) (*env, func(), int) {
	cfg, err := config.LoadWithProfile(os.Getenv("NEXUS_PROFILE"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return nil, nil, 2
	}
	setupLogging(cfg.LogLevel)
	obs := openTelemetry(cfg)

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error opening store: %v\n", err)
		return nil, nil, 2
	}
	events := store.NewEventStore(s)
	e := &env{
		cfg:      cfg,
		store:    s,
		events:   events,
		queue:    queue.New(s),
		registry: templates.NewRegistry(s),
		exporter: bundle.NewExporter(events),
		obs:      obs,
	}
	closer := func() {
		_ = s.Close()
		_ = obs.Shutdown(context.Background())
	}
	return e, closer, 0
}

// openTelemetry builds the OTel provider from config. Telemetry stays off
// unless an OTLP endpoint is configured, and a pipeline failure degrades to
// the disabled provider rather than blocking the command.
func openTelemetry(cfg *config.Config) *observability.Provider {
	obsCfg := observability.DefaultConfig()
	if cfg.Telemetry.OTLPEndpoint != "" {
		obsCfg.Enabled = true
		obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
		obsCfg.Insecure = cfg.Telemetry.Insecure
	}
	obs, err := observability.New(context.Background(), obsCfg)
	if err != nil {
		slog.Warn("telemetry init failed, continuing without it", "error", err)
		obsCfg.Enabled = false
		obs, _ = observability.New(context.Background(), obsCfg)
	}
	return obs
}

func (e *env) service() *governance.Service {
	opts := []governance.ServiceOption{governance.WithTemplates(e.registry)}
	if url := os.Getenv("NEXUS_ROUTER_URL"); url != "" {
		opts = append(opts, governance.WithRouter(newHTTPRouter(url)))
	}
	return governance.NewService(e.events, opts...)
}

func setupLogging(level string) {
	var lv slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lv = slog.LevelDebug
	case "WARN":
		lv = slog.LevelWarn
	case "ERROR":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}

func writeJSON(w io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(w, "Error rendering output: %v\n", err)
		return
	}
	_, _ = fmt.Fprintln(w, string(data))
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error [%s]: %v\n", contracts.ErrCode(err), err)
	return 1
}

func parseActor(spec string) (contracts.Actor, error) {
	if spec == "" {
		return contracts.Actor{}, fmt.Errorf("--actor is required (human:<id> or system:<id>)")
	}
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return contracts.Actor{}, fmt.Errorf("actor must be human:<id> or system:<id>, got %q", spec)
	}
	switch parts[0] {
	case "human":
		return contracts.Actor{Type: contracts.ActorHuman, ID: parts[1]}, nil
	case "system":
		return contracts.Actor{Type: contracts.ActorSystem, ID: parts[1]}, nil
	default:
		return contracts.Actor{}, fmt.Errorf("unknown actor type %q", parts[0])
	}
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
