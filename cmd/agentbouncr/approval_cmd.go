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
	"github.com/agentbouncr/agentbouncr/pkg/identity"
	"github.com/agentbouncr/agentbouncr/pkg/orchestrator"
)

func runApprovalCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: agentbouncr approval <list|resolve> [flags]")
		return 2
	}
	switch args[0] {
	case "list":
		return runApprovalList(args[1:], stdout, stderr)
	case "resolve":
		return runApprovalResolve(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown approval subcommand: %s\n", args[0])
		return 2
	}
}

func runApprovalList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("approval list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant string
	cmd.StringVar(&tenant, "tenant", "", "Tenant ID (empty lists every tenant)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	bus := eventbus.New()
	coordinator := approval.NewWithStore(store.AsApprovalStore(), bus, time.Hour)

	pending, err := coordinator.ListPending(ctx, tenant)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, _ := json.MarshalIndent(pending, "", "  ")
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runApprovalResolve(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("approval resolve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var id, tenant, status, approver, token, comment string
	cmd.StringVar(&id, "id", "", "Approval request ID (REQUIRED)")
	cmd.StringVar(&tenant, "tenant", "", "Tenant ID the request belongs to (REQUIRED with --token)")
	cmd.StringVar(&status, "status", "", "One of approved|rejected (REQUIRED)")
	cmd.StringVar(&approver, "approver", "", "Approver ID, required unless --token is given")
	cmd.StringVar(&token, "token", "", "Signed approver token (pkg/identity) in place of --approver")
	cmd.StringVar(&comment, "comment", "", "Resolution comment")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}
	if approver == "" && token == "" {
		fmt.Fprintln(stderr, "Error: one of --approver or --token is required")
		return 2
	}

	var target approval.Status
	switch status {
	case "approved":
		target = approval.StatusApproved
	case "rejected":
		target = approval.StatusRejected
	default:
		fmt.Fprintln(stderr, "Error: --status must be one of approved|rejected")
		return 2
	}

	cfg := config.Load()
	if token != "" {
		if !cfg.UsesApproverTokens() {
			fmt.Fprintln(stderr, "Error: --token given but GOVERNANCE_APPROVER_JWT_SECRET is not configured")
			return 2
		}
		if tenant == "" {
			fmt.Fprintln(stderr, "Error: --tenant is required with --token")
			return 2
		}
		tm := identity.NewTokenManager([]byte(cfg.ApproverJWTSecret), "agentbouncr")
		claims, err := tm.VerifyApproverToken(token, id, tenant)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		approver = claims.ApproverID
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	bus := eventbus.New()
	coordinator := approval.NewWithStore(store.AsApprovalStore(), bus, time.Hour)
	engine := orchestrator.New(bus, nil, store, store, coordinator, nil)

	resolved, err := engine.ResolveApproval(ctx, id, target, approver, comment)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(resolved, "", "  ")
	fmt.Fprintln(stdout, string(out))
	return 0
}
