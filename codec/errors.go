package codec

import (
	"fmt"

	"daemon-rpc/message"
)

// ProtocolKind classifies protocol errors.
type ProtocolKind int

const (
	// Violation covers malformed JSON and missing or duplicated result/error members.
	Violation ProtocolKind = iota
	// MismatchedID means a reply did not echo the id of the request it answered.
	MismatchedID
)

func (k ProtocolKind) String() string {
	if k == MismatchedID {
		return "mismatched id"
	}
	return "protocol violation"
}

// ProtocolError is a local bug or a misbehaving remote. It is never retried.
type ProtocolError struct {
	Kind ProtocolKind
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func violation(msg string, err error) *ProtocolError {
	return &ProtocolError{Kind: Violation, Msg: msg, Err: err}
}

// CheckID fails with a MismatchedID error unless got echoes want.
func CheckID(want, got message.ID) error {
	if want == got {
		return nil
	}
	return &ProtocolError{
		Kind: MismatchedID,
		Msg:  fmt.Sprintf("expected id %s, got %s", want, got),
	}
}

// RequestError is a server-side decode failure already mapped to a JSON-RPC error.
// ID is set when the id could be recovered from the body.
type RequestError struct {
	ID  message.ID
	Err *message.Error
}

func (e *RequestError) Error() string { return e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }
