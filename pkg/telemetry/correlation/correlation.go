package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/storetax/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
)

// Metadata travels with messages crossing process boundaries so the receiver
// can continue the sender's trace and correlation.
type Metadata struct {
	CorrelationID string    `json:"correlation_id"`
	TraceID       string    `json:"trace_id,omitempty"`
	SpanID        string    `json:"span_id,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

func ExtractCorrelationID(ctx context.Context) string {
	return obscontext.CorrelationIDFromContext(ctx)
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return obscontext.WithCorrelationID(ctx, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// MetadataFromContext captures the correlation and span identifiers of ctx.
func MetadataFromContext(ctx context.Context, now time.Time) Metadata {
	_, cid := EnsureCorrelationID(ctx)
	md := Metadata{CorrelationID: cid, PublishedAt: now.UTC()}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		md.TraceID = sc.TraceID().String()
		md.SpanID = sc.SpanID().String()
	}
	return md
}

// ContextFromMetadata restores correlation and the remote parent span on ctx.
func ContextFromMetadata(ctx context.Context, md Metadata) context.Context {
	ctx = ContextWithCorrelationID(ctx, md.CorrelationID)
	return ContextWithRemoteSpan(ctx, md.TraceID, md.SpanID)
}

// ContextWithRemoteSpan seeds the context with a remote span if valid identifiers are provided.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	return trace.ContextWithSpanContext(ctx, parent)
}
