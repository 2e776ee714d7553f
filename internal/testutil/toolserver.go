package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Reply scripts one response of the fake tool server
type Reply struct {
	Status int
	Body   string
	Delay  time.Duration
	// Echo answers with params.arguments as the result
	Echo bool
	// Hangup closes the connection without answering
	Hangup bool
}

// OK answers 200 with result marshaled into a JSON-RPC success envelope
func OK(result interface{}) Reply {
	raw, _ := json.Marshal(result)
	return Reply{Status: http.StatusOK, Body: `{"jsonrpc":"2.0","id":"x","result":` + string(raw) + `}`}
}

// EchoReply answers with the call's arguments
func EchoReply() Reply {
	return Reply{Status: http.StatusOK, Echo: true}
}

// StatusReply answers with a bare HTTP status and body
func StatusReply(status int, body string) Reply {
	return Reply{Status: status, Body: body}
}

// RPCErrorReply answers 200 with a JSON-RPC error object
func RPCErrorReply(code int, message string) Reply {
	msg, _ := json.Marshal(message)
	body := `{"jsonrpc":"2.0","id":"x","error":{"code":` + itoa(code) + `,"message":` + string(msg) + `}}`
	return Reply{Status: http.StatusOK, Body: body}
}

// GarbageReply answers 200 with a body that is not JSON
func GarbageReply() Reply {
	return Reply{Status: http.StatusOK, Body: "<html>definitely not json"}
}

// SlowReply delays r by d; the delay is abandoned when the client goes away
func SlowReply(d time.Duration, r Reply) Reply {
	r.Delay = d
	return r
}

// HangupReply drops the connection, producing a transport error on the client
func HangupReply() Reply {
	return Reply{Hangup: true}
}

// RecordedCall is one request observed by the fake tool server
type RecordedCall struct {
	Path    string
	Header  http.Header
	Body    []byte
	Request struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      string `json:"id"`
		Params  struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"params"`
	}
}

// ToolServer is a scriptable JSON-RPC tool server for tests.
// Replies are consumed in order; once exhausted the fallback is used.
type ToolServer struct {
	*httptest.Server

	mu           sync.Mutex
	script       []Reply
	fallback     Reply
	calls        []RecordedCall
	healthStatus int
	healthCalls  int
	healthHeader http.Header
}

// NewToolServer starts a fake tool server that plays replies in order and echoes afterwards
func NewToolServer(t *testing.T, replies ...Reply) *ToolServer {
	t.Helper()

	s := &ToolServer{
		script:       replies,
		fallback:     EchoReply(),
		healthStatus: http.StatusOK,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// SetFallback replaces the reply used once the script is exhausted
func (s *ToolServer) SetFallback(r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
}

// SetHealthStatus sets the status returned by GET /health
func (s *ToolServer) SetHealthStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthStatus = status
}

// CallCount returns the number of tool call requests received
func (s *ToolServer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// HealthCount returns the number of health probes received
func (s *ToolServer) HealthCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthCalls
}

// HealthHeader returns the headers of the last health probe
func (s *ToolServer) HealthHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthHeader
}

// Calls returns a copy of the recorded tool calls
func (s *ToolServer) Calls() []RecordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// LastCall returns the most recent tool call; ok is false when none arrived
func (s *ToolServer) LastCall() (RecordedCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return RecordedCall{}, false
	}
	return s.calls[len(s.calls)-1], true
}

func (s *ToolServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.mu.Lock()
		s.healthCalls++
		s.healthHeader = r.Header.Clone()
		status := s.healthStatus
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	body, _ := io.ReadAll(r.Body)
	call := RecordedCall{Path: r.URL.Path, Header: r.Header.Clone(), Body: body}
	_ = json.Unmarshal(body, &call.Request)

	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, call)
	reply := s.fallback
	if idx < len(s.script) {
		reply = s.script[idx]
	}
	s.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if reply.Hangup {
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if reply.Echo {
		args := call.Request.Params.Arguments
		if len(args) == 0 {
			args = json.RawMessage("null")
		}
		id, _ := json.Marshal(call.Request.ID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(id) + `,"result":` + string(args) + `}`))
		return
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply.Body))
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
