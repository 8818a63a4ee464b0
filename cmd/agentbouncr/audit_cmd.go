package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/audit"
	"github.com/agentbouncr/agentbouncr/pkg/config"
)

func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: agentbouncr audit <verify|export|query> [flags]")
		return 2
	}
	switch args[0] {
	case "verify":
		return runAuditVerify(args[1:], stdout, stderr)
	case "export":
		return runAuditExport(args[1:], stdout, stderr)
	case "query":
		return runAuditQuery(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown audit subcommand: %s\n", args[0])
		return 2
	}
}

func runAuditVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant string
	cmd.StringVar(&tenant, "tenant", "", "Tenant ID (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenant == "" {
		fmt.Fprintln(stderr, "Error: --tenant is required")
		return 2
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	brokenAt, ok, err := store.VerifyChain(ctx, tenant)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !ok {
		fmt.Fprintf(stdout, "chain broken at record index %d\n", brokenAt)
		return 1
	}

	fmt.Fprintln(stdout, "chain verified")
	return 0
}

// runAuditQuery implements `agentbouncr audit query`: the paginated,
// filterable read path over the audit log (agent/tool/result/trace/
// time-range/failure-category/free-text search) that Query exposes.
func runAuditQuery(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit query", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant, agentID, tool, result, traceID, failureCategory, search, since, until string
		limit, offset                                                                 int
	)
	cmd.StringVar(&tenant, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&agentID, "agent", "", "Filter by agent ID")
	cmd.StringVar(&tool, "tool", "", "Filter by tool name")
	cmd.StringVar(&result, "result", "", "Filter by result (allowed|denied|error|retention-boundary)")
	cmd.StringVar(&traceID, "trace", "", "Filter by trace ID")
	cmd.StringVar(&failureCategory, "failure-category", "", "Filter by failure category")
	cmd.StringVar(&search, "search", "", "Free-text search over reason and parameters")
	cmd.StringVar(&since, "since", "", "Only records at or after this RFC3339 timestamp")
	cmd.StringVar(&until, "until", "", "Only records at or before this RFC3339 timestamp")
	cmd.IntVar(&limit, "limit", 50, "Page size (0 = unbounded)")
	cmd.IntVar(&offset, "offset", 0, "Page offset")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenant == "" {
		fmt.Fprintln(stderr, "Error: --tenant is required")
		return 2
	}

	filter := audit.QueryFilter{
		AgentID: agentID, Tool: tool, Result: result, TraceID: traceID,
		FailureCategory: failureCategory, Search: search, Limit: limit, Offset: offset,
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			fmt.Fprintf(stderr, "Error: --since must be RFC3339: %v\n", err)
			return 2
		}
		filter.Since = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			fmt.Fprintf(stderr, "Error: --until must be RFC3339: %v\n", err)
			return 2
		}
		filter.Until = t
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	page, err := store.Query(ctx, tenant, filter)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runAuditExport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant, outPath string
	var limit int
	cmd.StringVar(&tenant, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output zip path (REQUIRED)")
	cmd.IntVar(&limit, "limit", 0, "Maximum number of records (0 = unbounded)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenant == "" || outPath == "" {
		fmt.Fprintln(stderr, "Error: --tenant and --out are required")
		return 2
	}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeFn()

	exporter := audit.NewExporter(store)
	pack, err := exporter.GeneratePack(ctx, audit.ExportRequest{TenantID: tenant, Limit: limit})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if err := os.WriteFile(outPath, pack.Bytes, 0o644); err != nil {
		fmt.Fprintf(stderr, "Error: write %s: %v\n", outPath, err)
		return 2
	}

	fmt.Fprintf(stdout, "evidence pack written to %s (checksum %s, chainValid=%t)\n", outPath, pack.Checksum, pack.ChainValid)

	if cfg := config.Load(); cfg.UsesS3() {
		uploader, err := audit.NewS3Uploader(ctx, audit.S3UploaderConfig{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
		if err != nil {
			fmt.Fprintf(stderr, "Warning: s3 uploader not initialized: %v\n", err)
		} else if key, err := uploader.Upload(ctx, pack); err != nil {
			fmt.Fprintf(stderr, "Warning: s3 upload failed: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "evidence pack uploaded to s3://%s/%s\n", cfg.S3Bucket, key)
		}
	}

	if !pack.ChainValid {
		return 1
	}
	return 0
}
