// Package message defines the JSON-RPC envelope exchanged between client and server.
//
// Request and Response are the "envelopes" for every call. They are serialized by the
// codec layer and carried by a transport (HTTP POST or a newline-delimited stream).
//
//   - On request:  Method is set, Params holds positional or named arguments.
//   - On response: exactly one of Result / Error is populated, ID echoes the request.
package message

import (
	"encoding/json"
)

// Version selects the envelope dialect.
type Version int

const (
	// Legacy omits the "jsonrpc" member. Older daemons reject requests carrying it.
	Legacy Version = iota
	// V2 emits "jsonrpc":"2.0".
	V2
)

// VersionTag is the value of the "jsonrpc" member in V2 envelopes.
const VersionTag = "2.0"

func (v Version) String() string {
	if v == V2 {
		return "2.0"
	}
	return "legacy"
}

// Request carries a single method invocation.
type Request struct {
	ID      ID      // Correlation token, echoed by the response
	Method  string  // Method name, matched exactly and case-sensitively by the server
	Params  Params  // Positional or named arguments, never both
	Version Version // Legacy or V2 framing
}

// NewRequest builds a request with positional params.
func NewRequest(id ID, method string, args ...any) *Request {
	return &Request{ID: id, Method: method, Params: Positional(args...)}
}

// Response carries the outcome of a single invocation.
type Response struct {
	ID      ID
	Result  json.RawMessage // Present only on success; may be the literal null
	Error   *Error          // Present only on failure
	Version Version
}

// NewResult builds a successful response, marshalling result eagerly so encoding
// problems surface on the server instead of as a broken body on the wire.
func NewResult(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id ID, e *Error) *Response {
	return &Response{ID: id, Error: e}
}

// Failed reports whether the response carries an error envelope.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// Decode unmarshals the result into v.
func (r *Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}
