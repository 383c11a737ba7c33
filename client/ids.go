package client

import (
	"sync/atomic"

	"github.com/google/uuid"

	"daemon-rpc/message"
)

// IDGenerator hands out correlation ids. Implementations must be safe for
// concurrent use and never repeat an id while it may still be in flight.
type IDGenerator interface {
	Next() message.ID
}

// SequentialIDs counts up from 1.
type SequentialIDs struct {
	n atomic.Int64
}

func (s *SequentialIDs) Next() message.ID {
	return message.NumberID(s.n.Add(1))
}

// UUIDIDs uses random string ids, useful when several clients share a stream.
type UUIDIDs struct{}

func (UUIDIDs) Next() message.ID {
	return message.StringID(uuid.NewString())
}
