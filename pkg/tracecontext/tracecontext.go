// Package tracecontext generates and propagates W3C-compliant trace
// identifiers across the suspension points of a single evaluate call.
//
// Go has no implicit task-local storage the way an ambient-context runtime
// does, so propagation is explicit: a Context is carried on the standard
// context.Context the way every blocking call in this module already takes
// one (Go has no implicit task-local storage, so this is explicit).
package tracecontext

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	otrace "go.opentelemetry.io/otel/trace"
)

// TraceID is 32 lower-hex characters, never all-zero.
type TraceID string

// SpanID is 16 lower-hex characters, never all-zero.
type SpanID string

// Context is the immutable pair propagated for one evaluate call.
type Context struct {
	TraceID TraceID
	SpanID  SpanID
}

// GenerateTraceID returns a cryptographically strong, non-zero trace id.
func GenerateTraceID() TraceID {
	for {
		var tid otrace.TraceID
		// otel's default generator reads crypto/rand and retries on the
		// all-zero case; we do the same retry here explicitly so the
		// invariant (never all-zero) is visible at this layer too.
		copy(tid[:], randomBytes(16))
		if tid.IsValid() {
			return TraceID(tid.String())
		}
	}
}

// GenerateSpanID returns a cryptographically strong, non-zero span id.
func GenerateSpanID() SpanID {
	for {
		var sid otrace.SpanID
		copy(sid[:], randomBytes(8))
		if sid.IsValid() {
			return SpanID(sid.String())
		}
	}
}

// New mints a fresh Context.
func New() Context {
	return Context{TraceID: GenerateTraceID(), SpanID: GenerateSpanID()}
}

// Validate reports whether s is strict lower-hex of the given byte length
// and not the all-zero value, per the W3C trace-context specification.
func Validate(s string, byteLen int) bool {
	if len(s) != byteLen*2 {
		return false
	}
	allZero := true
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			if c != '0' {
				allZero = false
			}
		case c >= 'a' && c <= 'f':
			allZero = false
		default:
			return false
		}
	}
	return !allZero
}

// ValidateTraceID reports whether s is a well-formed, non-zero trace id.
func ValidateTraceID(s string) bool { return Validate(s, 16) }

// ValidateSpanID reports whether s is a well-formed, non-zero span id.
func ValidateSpanID(s string) bool { return Validate(s, 8) }

// Traceparent renders the W3C header: version "00", always sampled ("01").
func (c Context) Traceparent() string {
	return fmt.Sprintf("00-%s-%s-01", c.TraceID, c.SpanID)
}

// ParseTraceparent parses a foreign "traceparent" header. It returns ok=false
// — never an error — so callers can decide whether to regenerate rather than
// fail the request. Only version "00" with valid, non-zero trace and span ids
// and a two-hex-digit flags field is accepted; the flags value itself is not
// checked.
func ParseTraceparent(header string) (Context, bool) {
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return Context{}, false
	}
	version, traceID, spanID, flags := parts[0], parts[1], parts[2], parts[3]
	if version != "00" {
		return Context{}, false
	}
	if !ValidateTraceID(traceID) || !ValidateSpanID(spanID) {
		return Context{}, false
	}
	if len(flags) != 2 {
		return Context{}, false
	}
	if _, err := hex.DecodeString(flags); err != nil {
		return Context{}, false
	}
	return Context{TraceID: TraceID(traceID), SpanID: SpanID(spanID)}, true
}

type ctxKey struct{}

// WithContext attaches tc to ctx for the duration of one evaluate call and
// everything it suspends into.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext retrieves a previously attached Context, if any.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// Resolve attaches a Context to ctx and returns both: the requested trace id
// with a fresh span id when requested is a valid trace id, otherwise a freshly
// minted Context. A Context already attached to ctx is not consulted.
func Resolve(ctx context.Context, requested TraceID) (context.Context, Context) {
	if requested != "" && ValidateTraceID(string(requested)) {
		tc := Context{TraceID: requested, SpanID: GenerateSpanID()}
		return WithContext(ctx, tc), tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// InjectTraceparent writes the header into an outgoing http.Header carrier.
func InjectTraceparent(h http.Header, tc Context) {
	h.Set("traceparent", tc.Traceparent())
}

// ExtractTraceparent reads and parses the header from an incoming carrier.
func ExtractTraceparent(h http.Header) (Context, bool) {
	return ParseTraceparent(h.Get("traceparent"))
}
