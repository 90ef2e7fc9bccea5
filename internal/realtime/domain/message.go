package domain

import (
	"time"

	"github.com/adimov-eth/vibecheck-sub001/pkg/idx"
)

// OutboundMessage is a frame that could not be sent immediately and sits in
// the durable outbox until the connection next authenticates. IDs are ULIDs,
// so insertion order and lexical ID order agree.
type OutboundMessage struct {
	ID         idx.ID
	Frame      Frame
	EnqueuedAt time.Time
}
