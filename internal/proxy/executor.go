package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/reqcontext"
)

const maxResponseBytes = 16 << 20

// doCall performs exactly one round trip to the tool server. It never retries
// and never touches the circuit breaker.
func (p *Proxy) doCall(ctx context.Context, server descriptor.Server, tool string, args map[string]interface{}, requestID string, attempt int) (json.RawMessage, error) {
	ctx, span := p.tracer.Start(ctx, "tool.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tool.server_id", server.ID),
			attribute.String("tool.name", tool),
			attribute.Int("tool.attempt", attempt),
		))
	defer span.End()

	result, err := p.roundTrip(ctx, server, tool, args, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	return result, err
}

func (p *Proxy) roundTrip(ctx context.Context, server descriptor.Server, tool string, args map[string]interface{}, requestID string) (json.RawMessage, error) {
	headers, err := p.headers.Build(ctx, server)
	if err != nil {
		return nil, err
	}

	body, err := newCallEnvelope(tool, args, requestID)
	if err != nil {
		return nil, descriptor.NewConfigError(server.ID, "tool arguments are not JSON-encodable", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, server.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, server.CallURL(), bytes.NewReader(body))
	if err != nil {
		return nil, descriptor.NewConfigError(server.ID, "invalid call URL", err)
	}
	for name, values := range headers {
		req.Header[name] = values
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(reqcontext.RequestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.transportError(ctx, attemptCtx, server, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, p.transportError(ctx, attemptCtx, server, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			ServerID:   server.ID,
			StatusCode: resp.StatusCode,
			Detail:     truncate(string(data), MaxErrorDetail),
		}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &ProtocolError{ServerID: server.ID, Code: CodeParseError, Message: err.Error()}
	}
	if envelope.Error != nil {
		return nil, &ProtocolError{
			ServerID: server.ID,
			Code:     envelope.Error.code(),
			Message:  envelope.Error.Message,
		}
	}

	p.logger.Debug("Tool call attempt succeeded",
		zap.String("server_id", server.ID),
		zap.String("tool", tool),
		zap.String("request_id", requestID),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("response_bytes", len(data)))

	return envelope.result(), nil
}

// transportError separates caller cancellation, attempt timeout and plain transport failures
func (p *Proxy) transportError(parent, attemptCtx context.Context, server descriptor.Server, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("tool call aborted: %w", parentErr)
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || isNetTimeout(err) {
		return &TimeoutError{ServerID: server.ID, Timeout: server.Timeout}
	}
	return &HTTPError{ServerID: server.ID, StatusCode: 0, Detail: truncate(err.Error(), MaxErrorDetail), Err: err}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}
