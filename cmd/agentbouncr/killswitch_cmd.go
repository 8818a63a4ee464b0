package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/agentbouncr/agentbouncr/pkg/config"
	"github.com/agentbouncr/agentbouncr/pkg/eventbus"
	"github.com/agentbouncr/agentbouncr/pkg/killswitch"
)

func runKillswitchCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: agentbouncr killswitch <activate|reset|status> [flags]")
		return 2
	}
	switch args[0] {
	case "activate":
		return runKillswitchActivate(args[1:], stdout, stderr)
	case "reset":
		return runKillswitchReset(args[1:], stdout, stderr)
	case "status":
		return runKillswitchStatus(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown killswitch subcommand: %s\n", args[0])
		return 2
	}
}

func runKillswitchActivate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("killswitch activate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant, reason string
	cmd.StringVar(&tenant, "tenant", killswitch.GlobalScope, "Tenant ID (empty for the global scope)")
	cmd.StringVar(&reason, "reason", "", "Activation reason (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if reason == "" {
		fmt.Fprintln(stderr, "Error: --reason is required")
		return 2
	}

	cfg := config.Load()
	if !cfg.UsesRedis() {
		fmt.Fprintln(stderr, "Warning: GOVERNANCE_REDIS_ADDR not set; this activation is only visible to this process")
	}

	ctx := context.Background()
	ks := openKillSwitch(eventbus.New(), cfg)
	ks.Activate(ctx, tenant, reason)

	status := ks.GetStatus(tenant)
	if !status.Active {
		fmt.Fprintln(stderr, "Error: activation did not apply (another instance may hold it)")
		return 1
	}
	fmt.Fprintf(stdout, "kill switch active for scope %q: %s\n", scopeLabel(tenant), status.Reason)
	return 0
}

func runKillswitchReset(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("killswitch reset", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant, reason string
	cmd.StringVar(&tenant, "tenant", killswitch.GlobalScope, "Tenant ID (empty for the global scope)")
	cmd.StringVar(&reason, "reason", "", "Reset reason")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	ks := openKillSwitch(eventbus.New(), config.Load())
	ks.Reset(ctx, tenant, reason)

	fmt.Fprintf(stdout, "kill switch reset for scope %q\n", scopeLabel(tenant))
	return 0
}

func runKillswitchStatus(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("killswitch status", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant string
	cmd.StringVar(&tenant, "tenant", killswitch.GlobalScope, "Tenant ID (empty for the global scope)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ks := openKillSwitch(nil, config.Load())
	status := ks.GetStatus(tenant)

	fmt.Fprintf(stdout, "scope=%s active=%t reason=%q activatedAt=%s\n",
		scopeLabel(tenant), status.Active, status.Reason, status.ActivatedAt)
	return 0
}

func scopeLabel(tenant string) string {
	if tenant == killswitch.GlobalScope {
		return "global"
	}
	return tenant
}
