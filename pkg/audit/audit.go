// Package audit implements the append-only, hash-chained decision log of
// every policy decision is recorded as a Record linked to its
// predecessor by ComputeHash, so tampering with any past entry breaks the
// chain from that point forward.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/hashchain"
)

// Record is one entry of the append-only log. Hash and PreviousHash form
// the chain; Hash is always hashchain.ComputeHash(the record's own fields
// as a hashchain.HashInput, PreviousHash).
type Record struct {
	ID              string         `json:"id"`
	TraceID         string         `json:"traceId"`
	Timestamp       time.Time      `json:"timestamp"`
	AgentID         string         `json:"agentId"`
	TenantID        string         `json:"tenantId,omitempty"`
	Tool            string         `json:"tool"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Result          string         `json:"result"`
	Reason          string         `json:"reason,omitempty"`
	DurationMs      int64          `json:"durationMs"`
	FailureCategory string         `json:"failureCategory,omitempty"`
	PreviousHash    string         `json:"previousHash"`
	Hash            string         `json:"hash"`
}

func (r Record) hashInput() hashchain.HashInput {
	return hashchain.HashInput{
		TraceID:         r.TraceID,
		Timestamp:       r.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentID:         r.AgentID,
		Tool:            r.Tool,
		Parameters:      r.Parameters,
		Result:          r.Result,
		Reason:          r.Reason,
		DurationMs:      r.DurationMs,
		FailureCategory: r.FailureCategory,
	}
}

// QueryFilter is the set of criteria a Query call applies: every non-zero
// field narrows the result set, and every narrowing is conjunctive with the others.
// Search matches substrings of Reason and of the serialized Parameters;
// backends must escape its LIKE metacharacters so it is always matched
// literally, never as a wildcard pattern supplied by whoever is searching.
type QueryFilter struct {
	AgentID         string
	Tool            string
	Result          string
	TraceID         string
	FailureCategory string
	Search          string
	Since           time.Time
	Until           time.Time
	Limit           int
	Offset          int
}

// QueryPage is one page of a Query call: Records holds at most Limit rows
// (oldest-first within the page, following chain order), and Total is the
// count of rows matching the filter before Limit/Offset were applied, so a
// caller can page through the full result set.
type QueryPage struct {
	Records []Record
	Total   int
}

// Store is the persistence contract a backend (SQLite, Postgres, ...) must
// satisfy. Append must compute and assign Hash/PreviousHash itself so the
// chain can never be built incorrectly by a caller.
type Store interface {
	// Append links rec to the tenant's current tail, assigns PreviousHash
	// and Hash, persists it, and returns the stored record.
	Append(ctx context.Context, rec Record) (Record, error)
	// Tail returns the most recent record for tenantID, or ok=false if
	// the chain for that tenant is empty (the next Append uses
	// hashchain.GenesisMarker).
	Tail(ctx context.Context, tenantID string) (Record, bool, error)
	// List returns records for tenantID in chain order (oldest first),
	// optionally bounded by limit (0 = unbounded).
	List(ctx context.Context, tenantID string, limit int) ([]Record, error)
	// Query returns a filtered, paginated page of records for tenantID, in
	// chain order within the page.
	Query(ctx context.Context, tenantID string, filter QueryFilter) (QueryPage, error)
	// VerifyChain recomputes every hash in tenantID's chain and reports
	// the index of the first record whose hash does not match, or ok=true
	// if the whole chain verifies.
	VerifyChain(ctx context.Context, tenantID string) (brokenAt int, ok bool, err error)
}

// likeEscapeChar is the escape character both backends pass to ESCAPE so
// the LIKE operator's own metacharacters can be matched literally.
const likeEscapeChar = `\`

// EscapeLike escapes the LIKE-operator metacharacters %, _, and the escape
// character itself with likeEscapeChar, so a Search term from an untrusted
// caller is always matched as a literal substring, never as a pattern.
func EscapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			r = append(r, likeEscapeChar[0])
		}
		r = append(r, s[i])
	}
	return string(r)
}

// Append is the backend-agnostic chaining step: given the tenant's current
// tail, it computes the next record's hash and previous-hash fields.
func Append(ctx context.Context, store Store, rec Record) (Record, error) {
	tail, hasTail, err := store.Tail(ctx, rec.TenantID)
	if err != nil {
		return Record{}, err
	}
	previousHash := hashchain.GenesisMarker
	if hasTail {
		previousHash = tail.Hash
	}
	rec.PreviousHash = previousHash
	hash, err := hashchain.ComputeHash(rec.hashInput(), previousHash)
	if err != nil {
		return Record{}, err
	}
	rec.Hash = hash
	return store.Append(ctx, rec)
}

// buildQueryConditions translates filter into a list of SQL predicates and
// their positional arguments, using ph to render each placeholder in the
// dialect the caller's database/sql driver expects ("?" for SQLite, "$1"
// etc. for Postgres). Shared by both backends so the filter semantics
// (what counts as a match) live in exactly one place.
func buildQueryConditions(tenantID string, filter QueryFilter, ph func(n int) string) (conditions []string, args []any) {
	n := 0
	next := func(v any) string {
		n++
		args = append(args, v)
		return ph(n)
	}

	conditions = append(conditions, "tenant_id = "+next(tenantID))
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = "+next(filter.AgentID))
	}
	if filter.Tool != "" {
		conditions = append(conditions, "tool = "+next(filter.Tool))
	}
	if filter.Result != "" {
		conditions = append(conditions, "result = "+next(filter.Result))
	}
	if filter.TraceID != "" {
		conditions = append(conditions, "trace_id = "+next(filter.TraceID))
	}
	if filter.FailureCategory != "" {
		conditions = append(conditions, "failure_category = "+next(filter.FailureCategory))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= "+next(filter.Since.UTC().Format(time.RFC3339Nano)))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp <= "+next(filter.Until.UTC().Format(time.RFC3339Nano)))
	}
	if filter.Search != "" {
		pattern := "%" + EscapeLike(filter.Search) + "%"
		reasonPlaceholder := next(pattern)
		paramsPlaceholder := next(pattern)
		conditions = append(conditions, fmt.Sprintf(
			"(reason LIKE %s ESCAPE '%s' OR parameters LIKE %s ESCAPE '%s')",
			reasonPlaceholder, likeEscapeChar, paramsPlaceholder, likeEscapeChar,
		))
	}
	return conditions, args
}

// joinAnd conjoins SQL predicates with AND, matching the conjunctive
// semantics QueryFilter documents.
func joinAnd(conditions []string) string {
	out := ""
	for i, c := range conditions {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

// verifyRecords recomputes hashes over an ordered (oldest-first) slice,
// shared by every backend's VerifyChain so the verification logic itself
// is grounded in one place.
func verifyRecords(records []Record) (brokenAt int, ok bool, err error) {
	previousHash := hashchain.GenesisMarker
	for i, rec := range records {
		match, verr := hashchain.Verify(rec.hashInput(), previousHash, rec.Hash)
		if verr != nil {
			return i, false, verr
		}
		if !match || rec.PreviousHash != previousHash {
			return i, false, nil
		}
		previousHash = rec.Hash
	}
	return 0, true, nil
}
