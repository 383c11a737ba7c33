package client

import (
	"context"
	"errors"

	"daemon-rpc/async"
	"daemon-rpc/codec"
	"daemon-rpc/message"
	"daemon-rpc/protocol"
	"daemon-rpc/transport"
)

// Kind says where a call failed.
type Kind int

const (
	KindNone        Kind = iota
	KindTransport        // no reply was received: *transport.Error
	KindStatus           // non-2xx HTTP reply: *protocol.StatusError
	KindProtocol         // unreadable or mismatched reply: *codec.ProtocolError
	KindApplication      // well-formed error envelope: *message.Error
	KindCancelled        // the caller gave up: context or future cancellation
	KindOther
)

var kindNames = [...]string{"none", "transport", "status", "protocol", "application", "cancelled", "other"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// KindOf classifies err. Status errors are checked before application errors
// because a StatusError may carry a decoded RPC error of its own, and
// cancellation wins over the transport error it surfaces as.
func KindOf(err error) Kind {
	var (
		terr *transport.Error
		serr *protocol.StatusError
		perr *codec.ProtocolError
		aerr *message.Error
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &serr):
		return KindStatus
	case errors.As(err, &perr):
		return KindProtocol
	case errors.As(err, &aerr):
		return KindApplication
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, async.ErrCancelled):
		return KindCancelled
	case errors.As(err, &terr):
		return KindTransport
	}
	return KindOther
}

// StatusCode returns the HTTP status of a status error or the JSON-RPC code of
// an application error. Transport errors have no code and report false.
func StatusCode(err error) (int, bool) {
	var serr *protocol.StatusError
	if errors.As(err, &serr) {
		return serr.Code, true
	}
	var aerr *message.Error
	if errors.As(err, &aerr) {
		return aerr.Code, true
	}
	return 0, false
}

// RPCError extracts the JSON-RPC error object from an application error or
// from the body of a status error.
func RPCError(err error) (*message.Error, bool) {
	var serr *protocol.StatusError
	if errors.As(err, &serr) {
		return serr.RPCError, serr.RPCError != nil
	}
	var aerr *message.Error
	if errors.As(err, &aerr) {
		return aerr, true
	}
	return nil, false
}
