package codec

import (
	"bytes"
	"encoding/json"

	"daemon-rpc/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
type JSONCodec struct{}

type wireRequest struct {
	JSONRPC string         `json:"jsonrpc,omitempty"`
	Method  string         `json:"method"`
	Params  message.Params `json:"params"`
	ID      message.ID     `json:"id"`
}

type v2Result struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      message.ID      `json:"id"`
}

type v2Error struct {
	JSONRPC string         `json:"jsonrpc"`
	Error   *message.Error `json:"error"`
	ID      message.ID     `json:"id"`
}

// legacyResponse always writes both members, the way bitcoind answers 1.0 clients.
type legacyResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *message.Error  `json:"error"`
	ID     message.ID      `json:"id"`
}

func (c *JSONCodec) ContentType() string { return "application/json" }

func (c *JSONCodec) EncodeRequest(req *message.Request) ([]byte, error) {
	w := wireRequest{Method: req.Method, Params: req.Params, ID: req.ID}
	if req.Version == message.V2 {
		w.JSONRPC = message.VersionTag
	}
	return json.Marshal(&w)
}

func (c *JSONCodec) DecodeRequest(data []byte) (*message.Request, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, &RequestError{Err: message.NewError(message.CodeParseError, "Parse error")}
	}

	req := &message.Request{}
	if raw, ok := members["id"]; ok {
		if err := json.Unmarshal(raw, &req.ID); err != nil {
			return nil, &RequestError{Err: message.NewError(message.CodeInvalidRequest, "Invalid Request: bad id")}
		}
	}
	if raw, ok := members["jsonrpc"]; ok {
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil || tag != message.VersionTag {
			return nil, &RequestError{ID: req.ID, Err: message.NewError(message.CodeInvalidRequest, "Invalid Request: unsupported jsonrpc version")}
		}
		req.Version = message.V2
	}
	raw, ok := members["method"]
	if !ok || json.Unmarshal(raw, &req.Method) != nil || req.Method == "" {
		return nil, &RequestError{ID: req.ID, Err: message.NewError(message.CodeInvalidRequest, "Invalid Request: method is missing")}
	}
	params, err := message.RawParams(members["params"])
	if err != nil {
		return nil, &RequestError{ID: req.ID, Err: message.ErrInvalidParams(err.Error())}
	}
	req.Params = params
	return req, nil
}

func (c *JSONCodec) EncodeResponse(resp *message.Response) ([]byte, error) {
	result := resp.Result
	if resp.Error != nil {
		result = nil
	} else if len(result) == 0 {
		result = json.RawMessage("null")
	}
	if resp.Version != message.V2 {
		return json.Marshal(&legacyResponse{Result: result, Error: resp.Error, ID: resp.ID})
	}
	if resp.Error != nil {
		return json.Marshal(&v2Error{JSONRPC: message.VersionTag, Error: resp.Error, ID: resp.ID})
	}
	return json.Marshal(&v2Result{JSONRPC: message.VersionTag, Result: result, ID: resp.ID})
}

// DecodeResponse enforces the exactly-one-of rule. A member holding null counts as
// absent for error; a present result holding null is a valid (empty) success.
func (c *JSONCodec) DecodeResponse(data []byte) (*message.Response, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, violation("malformed response body", err)
	}

	resp := &message.Response{}
	if raw, ok := members["id"]; ok {
		if err := json.Unmarshal(raw, &resp.ID); err != nil {
			return nil, violation("malformed response id", err)
		}
	}
	if raw, ok := members["jsonrpc"]; ok && !isNull(raw) {
		resp.Version = message.V2
	}

	rawResult, hasResult := members["result"]
	rawErr, hasErr := members["error"]
	hasErr = hasErr && !isNull(rawErr)

	switch {
	case hasErr && hasResult && !isNull(rawResult):
		return nil, violation("response carries both result and error", nil)
	case hasErr:
		var e message.Error
		if err := json.Unmarshal(rawErr, &e); err != nil {
			return nil, violation("malformed error object", err)
		}
		resp.Error = &e
	case hasResult:
		resp.Result = rawResult
	default:
		return nil, violation("response carries neither result nor error", nil)
	}
	return resp, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
