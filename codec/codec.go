// Package codec implements the JSON-RPC envelope rules on top of encoding/json.
//
// The rules are transport independent:
//   - requests emit "jsonrpc":"2.0" only in V2 mode, legacy daemons reject the member
//   - a response must carry exactly one of result / error; anything else is a
//     protocol violation and never reaches a caller as a value
package codec

import "daemon-rpc/message"

// Codec encodes and decodes envelopes.
type Codec interface {
	EncodeRequest(req *message.Request) ([]byte, error)
	DecodeRequest(data []byte) (*message.Request, error)
	EncodeResponse(resp *message.Response) ([]byte, error)
	DecodeResponse(data []byte) (*message.Response, error)
	ContentType() string
}

// Default is the codec used when none is configured.
var Default Codec = &JSONCodec{}
