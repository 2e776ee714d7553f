// Package reqcontext carries request, correlation and source identifiers
// through a context from the gateway or CLI down to outgoing tool calls.
package reqcontext

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	requestIDKey
	requestSourceKey
)

// RequestSource indicates where a tool call originated
type RequestSource string

const (
	SourceRESTAPI  RequestSource = "REST_API"
	SourceCLI      RequestSource = "CLI"
	SourceLibrary  RequestSource = "LIBRARY"
	SourceInternal RequestSource = "INTERNAL"
	SourceUnknown  RequestSource = "UNKNOWN"
)

// GenerateCorrelationID returns a new ULID. ULIDs sort by creation time,
// which keeps log lines of one gateway session in order.
func GenerateCorrelationID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func value[T any](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID returns "" when ctx carries no correlation id
func GetCorrelationID(ctx context.Context) string {
	id, _ := value[string](ctx, correlationIDKey)
	return id
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns "" when ctx carries no request id
func GetRequestID(ctx context.Context) string {
	id, _ := value[string](ctx, requestIDKey)
	return id
}

func WithRequestSource(ctx context.Context, source RequestSource) context.Context {
	return context.WithValue(ctx, requestSourceKey, source)
}

// GetRequestSource returns SourceUnknown when ctx carries no source
func GetRequestSource(ctx context.Context) RequestSource {
	if source, ok := value[RequestSource](ctx, requestSourceKey); ok {
		return source
	}
	return SourceUnknown
}

// WithMetadata adds a fresh correlation ID and the request source to ctx
func WithMetadata(ctx context.Context, source RequestSource) context.Context {
	ctx = WithCorrelationID(ctx, GenerateCorrelationID())
	return WithRequestSource(ctx, source)
}
