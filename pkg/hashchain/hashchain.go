// Package hashchain computes and verifies the SHA-256 hash chain that binds
// every audit record to its predecessor.
package hashchain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// GenesisMarker is the sentinel previous-marker for the first record in a
// chain. It is structurally distinguishable from any legal hash value
// (hashes are exactly 64 lower-hex characters; this is not).
const GenesisMarker = "GENESIS_NULL"

// HashInput is the set of audit record fields that feed the hash. It
// deliberately mirrors audit.Record's content rather than embedding it, so
// this package has no dependency on the audit package.
type HashInput struct {
	TraceID         string
	Timestamp       string // RFC3339Nano
	AgentID         string
	Tool            string
	Parameters      map[string]any // nil when absent
	Result          string
	Reason          string // empty when absent
	DurationMs      int64
	FailureCategory string // empty when absent
}

// ComputeHash returns the deterministic SHA-256 hex digest of input chained
// after previousHash ("" or GenesisMarker both mean "no predecessor").
func ComputeHash(input HashInput, previousHash string) (string, error) {
	marker := GenesisMarker
	if previousHash != "" && previousHash != GenesisMarker {
		marker = "CHAIN:" + previousHash
	}

	canonicalParams, err := canonicalParams(input.Parameters)
	if err != nil {
		return "", fmt.Errorf("hashchain: canonicalize parameters: %w", err)
	}

	fields := []any{
		marker,
		input.TraceID,
		input.Timestamp,
		input.AgentID,
		input.Tool,
		canonicalParams,
		input.Result,
		input.Reason,
		fmt.Sprintf("%d", input.DurationMs),
		input.FailureCategory,
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("hashchain: marshal fields: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("hashchain: jcs transform: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalParams serializes parameters with object keys sorted
// lexicographically at the top level; a nil map serializes to "".
func canonicalParams(params map[string]any) (string, error) {
	if params == nil {
		return "", nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]any, len(params))
	for _, k := range keys {
		ordered[k] = params[k]
	}
	raw, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

// Verify reports whether storedHash matches the hash recomputed from input
// and previousHash, using a constant-time comparison of equal-length
// buffers. Unequal lengths short-circuit to false.
func Verify(input HashInput, previousHash, storedHash string) (bool, error) {
	expected, err := ComputeHash(input, previousHash)
	if err != nil {
		return false, err
	}
	if len(expected) != len(storedHash) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(storedHash)) == 1, nil
}
