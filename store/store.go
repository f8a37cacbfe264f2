/*
Package store keeps the durable state of a node: the message log, the set of
decisions and the block chain. Every mutation is an insert-if-absent keyed by
the record's uniqueness invariant, so concurrent deliveries of the same event
never create duplicates.

Two backends are provided. MemStore keeps everything in maps and is used by
tests and short-lived nodes; SQLiteStore persists to a sqlite file so that a
restarted node recomputes all counts from disk.
*/
package store

import (
	"time"

	"github.com/gitzhang10/pbftchain/types"
)

// MessageLog is an append-only log of phase messages.
type MessageLog interface {
	// PutMessage stores msg unless a message with the same (phase, value, sender)
	// exists. It reports whether msg was inserted.
	PutMessage(msg *types.PhaseMessage) (bool, error)
	// HasMessage reports whether sender has a stored message for (phase, value).
	HasMessage(phase types.Phase, value, sender string) (bool, error)
	// DistinctSenderCount counts distinct senders for (phase, value).
	DistinctSenderCount(phase types.Phase, value string) (int, error)
}

// DecisionSet holds at most one decision per value.
type DecisionSet interface {
	// CreateDecision reports whether this call created the decision.
	CreateDecision(value string, at time.Time) (bool, error)
	HasDecision(value string) (bool, error)
}

// ChainStore is an ordered block ledger keyed by index.
type ChainStore interface {
	// Tip returns the highest-index block, or nil on an empty chain.
	Tip() (*types.Block, error)
	// BlockAt returns the block at index, or nil if there is none.
	BlockAt(index int64) (*types.Block, error)
	// InsertBlock stores b unless a block already exists at b.Index.
	// It reports whether b was inserted.
	InsertBlock(b *types.Block) (bool, error)
	// Blocks returns the whole chain ordered by index.
	Blocks() ([]types.Block, error)
}

// Store bundles the three stores a node owns.
type Store interface {
	MessageLog
	DecisionSet
	ChainStore
	Close() error
}

// Open returns a SQLiteStore at path, or a MemStore when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemStore(), nil
	}
	return NewSQLiteStore(path)
}
