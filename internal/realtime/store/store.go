package store

import (
	"context"
	"errors"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/pkg/idx"
)

var ErrNotFound = errors.New("store: not found")

// Store is the root data access interface for the client's durable state.
// Concrete drivers (sqlite today) implement this. Each sub-repository has a
// single writing owner at runtime, but the files must tolerate a second
// process instance reading during a cold start.
type Store interface {
	Credentials() Credentials
	Outbox() Outbox

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Credentials persists the single cached bearer credential so an unexpired
// token survives process restarts.
type Credentials interface {
	// Get returns the persisted credential, or ErrNotFound.
	Get(ctx context.Context) (domain.Credential, error)

	// Put replaces the persisted credential wholesale.
	Put(ctx context.Context, c domain.Credential) error

	// Delete removes the persisted credential (sign-out, rejection).
	Delete(ctx context.Context) error
}

// Outbox persists queued outbound messages in FIFO order.
type Outbox interface {
	// Append stores a message at the tail of the queue.
	Append(ctx context.Context, m domain.OutboundMessage) error

	// List returns all queued messages in enqueue order.
	List(ctx context.Context) ([]domain.OutboundMessage, error)

	// Delete removes a single message after a successful send.
	Delete(ctx context.Context, id idx.ID) error

	// TrimToNewest drops the oldest rows until at most n remain.
	TrimToNewest(ctx context.Context, n int) error

	// Count returns the number of queued messages.
	Count(ctx context.Context) (int, error)
}
