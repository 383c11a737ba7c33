package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"daemon-rpc/message"
)

func TestRequestRoundTrip(t *testing.T) {
	c := &JSONCodec{}
	cases := []*message.Request{
		{ID: message.NumberID(1), Method: "getblockcount", Params: message.Positional()},
		{ID: message.StringID("abc"), Method: "getblockhash", Params: message.Positional(float64(700000)), Version: message.V2},
		{ID: message.NumberID(9), Method: "getblock", Params: message.Named(map[string]any{"blockhash": "00ff", "verbosity": float64(2)})},
	}
	for _, original := range cases {
		data, err := c.EncodeRequest(original)
		if err != nil {
			t.Fatalf("EncodeRequest failed: %v", err)
		}
		decoded, err := c.DecodeRequest(data)
		if err != nil {
			t.Fatalf("DecodeRequest failed: %v", err)
		}
		if decoded.ID != original.ID {
			t.Errorf("ID mismatch: got %v, want %v", decoded.ID, original.ID)
		}
		if decoded.Method != original.Method {
			t.Errorf("Method mismatch: got %s, want %s", decoded.Method, original.Method)
		}
		if decoded.Version != original.Version {
			t.Errorf("Version mismatch: got %v, want %v", decoded.Version, original.Version)
		}
		want, _ := json.Marshal(original.Params)
		got, _ := json.Marshal(decoded.Params)
		if string(want) != string(got) {
			t.Errorf("Params mismatch: got %s, want %s", got, want)
		}
	}
}

func TestRequestVersionMember(t *testing.T) {
	c := &JSONCodec{}
	legacy, _ := c.EncodeRequest(message.NewRequest(message.NumberID(1), "getblockcount"))
	if strings.Contains(string(legacy), "jsonrpc") {
		t.Fatalf("legacy request must omit jsonrpc, got %s", legacy)
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(legacy, &members); err != nil {
		t.Fatal(err)
	}
	if string(members["params"]) != "[]" || string(members["method"]) != `"getblockcount"` || string(members["id"]) != "1" {
		t.Fatalf("unexpected legacy request %s", legacy)
	}

	req := message.NewRequest(message.NumberID(1), "getblockcount")
	req.Version = message.V2
	v2, _ := c.EncodeRequest(req)
	if !strings.Contains(string(v2), `"jsonrpc":"2.0"`) {
		t.Fatalf("v2 request must carry jsonrpc, got %s", v2)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	c := &JSONCodec{}
	cases := []*message.Response{
		{ID: message.NumberID(1), Result: json.RawMessage(`123`)},
		{ID: message.StringID("x"), Result: json.RawMessage(`null`), Version: message.V2},
		{ID: message.NumberID(3), Error: message.NewError(-5, "Invalid address")},
		{ID: message.NumberID(4), Error: message.ErrMethodNotFound("nope"), Version: message.V2},
	}
	for _, original := range cases {
		data, err := c.EncodeResponse(original)
		if err != nil {
			t.Fatalf("EncodeResponse failed: %v", err)
		}
		decoded, err := c.DecodeResponse(data)
		if err != nil {
			t.Fatalf("DecodeResponse(%s) failed: %v", data, err)
		}
		if decoded.ID != original.ID || decoded.Version != original.Version {
			t.Errorf("envelope mismatch: got %+v, want %+v", decoded, original)
		}
		if string(decoded.Result) != string(original.Result) {
			t.Errorf("Result mismatch: got %s, want %s", decoded.Result, original.Result)
		}
		if (decoded.Error == nil) != (original.Error == nil) {
			t.Fatalf("Error presence mismatch for %s", data)
		}
		if original.Error != nil && (decoded.Error.Code != original.Error.Code || decoded.Error.Message != original.Error.Message) {
			t.Errorf("Error mismatch: got %+v, want %+v", decoded.Error, original.Error)
		}
	}
}

func TestDecodeResponseViolations(t *testing.T) {
	c := &JSONCodec{}
	cases := map[string]string{
		"neither":          `{"id":1}`,
		"neither with nil": `{"error":null,"id":1}`,
		"both":             `{"result":1,"error":{"code":-1,"message":"x"},"id":1}`,
		"malformed":        `{"result":`,
		"error not object": `{"error":"boom","id":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.DecodeResponse([]byte(body))
			var perr *ProtocolError
			if !errors.As(err, &perr) || perr.Kind != Violation {
				t.Fatalf("expect protocol violation, got %v", err)
			}
		})
	}
}

func TestDecodeResponseLegacyNulls(t *testing.T) {
	c := &JSONCodec{}
	resp, err := c.DecodeResponse([]byte(`{"result":null,"error":{"code":-28,"message":"Loading block index..."},"id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != message.CodeInWarmup {
		t.Fatalf("expect warmup error, got %+v", resp.Error)
	}

	resp, err = c.DecodeResponse([]byte(`{"result":null,"error":null,"id":1}`))
	if err != nil {
		t.Fatalf("null result with null error is a success, got %v", err)
	}
	if resp.Error != nil || string(resp.Result) != "null" {
		t.Fatalf("expect null result, got %+v", resp)
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	c := &JSONCodec{}
	cases := []struct {
		body string
		code int
	}{
		{`not json`, message.CodeParseError},
		{`{"id":1,"params":[]}`, message.CodeInvalidRequest},
		{`{"jsonrpc":"1.5","id":1,"method":"x"}`, message.CodeInvalidRequest},
		{`{"id":1,"method":"x","params":7}`, message.CodeInvalidParams},
	}
	for _, tc := range cases {
		_, err := c.DecodeRequest([]byte(tc.body))
		var rerr *RequestError
		if !errors.As(err, &rerr) {
			t.Fatalf("%s: expect RequestError, got %v", tc.body, err)
		}
		if rerr.Err.Code != tc.code {
			t.Errorf("%s: expect code %d, got %d", tc.body, tc.code, rerr.Err.Code)
		}
	}
}

func TestCheckID(t *testing.T) {
	if err := CheckID(message.NumberID(1), message.NumberID(1)); err != nil {
		t.Fatal(err)
	}
	err := CheckID(message.NumberID(1), message.NumberID(2))
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != MismatchedID {
		t.Fatalf("expect mismatched id, got %v", err)
	}
	if CheckID(message.NumberID(1), message.StringID("1")) == nil {
		t.Fatal("number and string ids must not match")
	}
}
