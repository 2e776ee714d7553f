package reqcontext

import (
	"context"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request id on inbound gateway requests and outbound tool calls
	RequestIDHeader = "X-Request-Id"

	// MaxRequestIDLength bounds ids echoed into headers, logs and JSON-RPC envelopes
	MaxRequestIDLength = 128
)

// IsValidRequestID accepts 1 to MaxRequestIDLength characters drawn from
// letters, digits and the separators - _ . :
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// GenerateRequestID returns a random UUID v4
func GenerateRequestID() string {
	return uuid.NewString()
}

// RequestIDOrNew keeps a valid client supplied id and replaces anything else
func RequestIDOrNew(provided string) string {
	if IsValidRequestID(provided) {
		return provided
	}
	return GenerateRequestID()
}

// ResolveRequestID picks the id for an outgoing tool call: the explicit id when
// set, then the id carried by ctx, then a fresh UUID.
func ResolveRequestID(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id := GetRequestID(ctx); id != "" {
		return id
	}
	return GenerateRequestID()
}
