package proxy

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  rpcCallParams `json:"params"`
	ID      string        `json:"id"`
}

type rpcCallParams struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// newCallEnvelope encodes a tools/call request. Nil arguments become {}.
func newCallEnvelope(tool string, args map[string]interface{}, requestID string) ([]byte, error) {
	var arguments interface{} = args
	if args == nil {
		arguments = map[string]interface{}{}
	}
	return json.Marshal(rpcRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		Method:  string(mcp.MethodToolsCall),
		Params:  rpcCallParams{Name: tool, Arguments: arguments},
		ID:      requestID,
	})
}

// code renders the JSON-RPC error code as a string whether it was a number or a string
func (e *rpcError) code() string {
	raw := bytes.TrimSpace(e.Code)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return CodeUnknown
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(raw))
}

// result returns the result field, mapping an absent result to JSON null
func (r *rpcResponse) result() json.RawMessage {
	if len(r.Result) == 0 {
		return json.RawMessage("null")
	}
	return r.Result
}
