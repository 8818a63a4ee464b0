package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/approval"
	"github.com/agentbouncr/agentbouncr/pkg/config"
	"github.com/agentbouncr/agentbouncr/pkg/eventbus"
	"github.com/agentbouncr/agentbouncr/pkg/orchestrator"
)

// runEvaluateCmd implements `agentbouncr evaluate`: a one-shot decision
// against the persisted policy for one agent/tool pair.
func runEvaluateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		agentID    string
		tool       string
		paramsJSON string
		tenantID   string
	)
	cmd.StringVar(&agentID, "agent", "", "Agent ID (REQUIRED)")
	cmd.StringVar(&tool, "tool", "", "Tool name (REQUIRED)")
	cmd.StringVar(&paramsJSON, "params", "{}", "Tool parameters as a JSON object")
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" || tool == "" {
		fmt.Fprintln(stderr, "Error: --agent and --tool are required")
		return 2
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		fmt.Fprintf(stderr, "Error: --params must be a JSON object: %v\n", err)
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	store, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	bus := eventbus.New()
	coordinator := approval.NewWithStore(store.AsApprovalStore(), bus, time.Hour)
	engine := orchestrator.New(bus, openKillSwitch(bus, cfg), store, store, coordinator, nil)
	if tenantID != "" {
		engine = engine.ForTenant(tenantID)
	}

	dec, err := engine.Evaluate(ctx, orchestrator.Request{AgentID: agentID, Tool: tool, Parameters: params, TenantID: tenantID})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(dec, "", "  ")
	fmt.Fprintln(stdout, string(out))

	if !dec.Allowed {
		return 1
	}
	return 0
}
