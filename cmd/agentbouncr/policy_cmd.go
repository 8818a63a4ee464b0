package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/agentbouncr/agentbouncr/pkg/config"
	"github.com/agentbouncr/agentbouncr/pkg/goverr"
	"github.com/agentbouncr/agentbouncr/pkg/policy"
)

func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: agentbouncr policy <load|list|rollback> [flags]")
		return 2
	}
	switch args[0] {
	case "load":
		return runPolicyLoad(args[1:], stdout, stderr)
	case "list":
		return runPolicyList(args[1:], stdout, stderr)
	case "rollback":
		return runPolicyRollback(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown policy subcommand: %s\n", args[0])
		return 2
	}
}

func runPolicyLoad(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy load", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var agentID, bundlePath string
	cmd.StringVar(&agentID, "agent", "", "Agent ID (REQUIRED)")
	cmd.StringVar(&bundlePath, "bundle", "", "Path to a policy bundle YAML file (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" || bundlePath == "" {
		fmt.Fprintln(stderr, "Error: --agent and --bundle are required")
		return 2
	}

	p, err := config.LoadPolicyBundle(bundlePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := policy.Validate(p); err != nil {
		fmt.Fprintf(stderr, "Error: invalid policy: %v\n", err)
		return 2
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	if err := store.SavePolicy(ctx, agentID, p); err != nil {
		fmt.Fprintf(stderr, "Error: save policy: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "policy %q version %q loaded for agent %q\n", p.Name, p.Version, agentID)
	return 0
}

func runPolicyList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var agentID string
	var jsonOutput bool
	cmd.StringVar(&agentID, "agent", "", "Agent ID (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" {
		fmt.Fprintln(stderr, "Error: --agent is required")
		return 2
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	versions, err := store.ListPolicyVersions(ctx, agentID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	policy.SortVersionsDescending(versions)

	if jsonOutput {
		out, _ := json.MarshalIndent(versions, "", "  ")
		fmt.Fprintln(stdout, string(out))
		return 0
	}
	for _, v := range versions {
		fmt.Fprintln(stdout, v)
	}
	return 0
}

func runPolicyRollback(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy rollback", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var agentID string
	cmd.StringVar(&agentID, "agent", "", "Agent ID (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" {
		fmt.Fprintln(stderr, "Error: --agent is required")
		return 2
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	current, err := store.LoadPolicy(ctx, agentID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if current == nil {
		fmt.Fprintf(stderr, "Error: no policy loaded for agent %q\n", agentID)
		return 2
	}

	versions, err := store.ListPolicyVersions(ctx, agentID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	target, ok := policy.NearestPriorVersion(current.Version, versions)
	if !ok {
		fmt.Fprintf(stderr, "Error: %s\n", goverr.ErrVersionNotFound.WithField("agentId", agentID).Error())
		return 1
	}

	prior, err := store.LoadPolicyVersion(ctx, agentID, target)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := store.SavePolicy(ctx, agentID, prior); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "rolled back agent %q to policy version %q\n", agentID, target)
	return 0
}
