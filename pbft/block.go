package pbft

import (
	"fmt"
	"time"

	"github.com/gitzhang10/pbftchain/sign"
	"github.com/gitzhang10/pbftchain/types"
)

const (
	StatusAppended      = "appended"
	StatusAlreadyExists = "already_exists"
)

// BlockResult acknowledges an admitted block.
type BlockResult struct {
	Status string `json:"status"`
	Index  int64  `json:"index"`
}

// buildNextBlock appends a block for value on top of the local tip and
// broadcasts it to the other nodes.
func (n *Node) buildNextBlock(value string) (*types.Block, error) {
	n.buildLock.Lock()
	defer n.buildLock.Unlock()

	tip, err := n.store.Tip()
	if err != nil {
		return nil, err
	}
	b := &types.Block{
		Index:     0,
		Value:     value,
		Timestamp: n.now().UTC().Format(time.RFC3339Nano),
		Proposer:  n.name,
	}
	if tip != nil {
		b.Index = tip.Index + 1
		b.PrevHash = tip.BlockHash
	}
	if b.BlockHash, err = b.ComputeHash(); err != nil {
		return nil, err
	}
	if b.Signature, err = sign.Sign(b.Payload(), n.secret); err != nil {
		return nil, err
	}

	inserted, err := n.store.InsertBlock(b)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("height %d is already taken", b.Index)
	}
	n.metrics.blocks.WithLabelValues("built").Inc()
	n.logger.Info("block is built", "index", b.Index, "value", value, "hash", b.BlockHash)
	n.broadcast(BlockTag, b, false)
	return b, nil
}

// HandleBlock validates a block received from the proposer and appends it
// when it extends the local tip.
func (n *Node) HandleBlock(b *types.Block) (*BlockResult, error) {
	if err := b.Validate(); err != nil {
		n.reject("block", "malformed", err)
		return nil, malformed(err)
	}
	if !sign.Verify(b.Payload(), b.Signature, n.secret) {
		n.reject("block", "signature", ErrBadBlockSignature)
		return nil, ErrBadBlockSignature
	}
	expected, err := b.ComputeHash()
	if err != nil {
		return nil, err
	}
	if expected != b.BlockHash {
		err = fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, expected, b.BlockHash)
		n.reject("block", "hash", err)
		return nil, err
	}

	// a redelivered block is not a conflict even after the tip moved on
	existing, err := n.store.BlockAt(b.Index)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.BlockHash == b.BlockHash {
		n.metrics.blocks.WithLabelValues(StatusAlreadyExists).Inc()
		return &BlockResult{Status: StatusAlreadyExists, Index: b.Index}, nil
	}

	tip, err := n.store.Tip()
	if err != nil {
		return nil, err
	}
	if conflict := checkLink(tip, b); conflict != nil {
		n.reject("block", "conflict", conflict)
		return nil, conflict
	}

	inserted, err := n.store.InsertBlock(b)
	if err != nil {
		return nil, err
	}
	if !inserted {
		n.metrics.blocks.WithLabelValues(StatusAlreadyExists).Inc()
		return &BlockResult{Status: StatusAlreadyExists, Index: b.Index}, nil
	}
	n.metrics.blocks.WithLabelValues(StatusAppended).Inc()
	n.logger.Info("block is appended", "index", b.Index, "value", b.Value, "hash", b.BlockHash)
	return &BlockResult{Status: StatusAppended, Index: b.Index}, nil
}

// checkLink verifies that b is the successor of tip.
func checkLink(tip *types.Block, b *types.Block) *ChainConflictError {
	if tip == nil {
		if b.PrevHash != "" || b.Index != 0 {
			return &ChainConflictError{
				Reason:        "missing genesis or prev_hash mismatch",
				LocalTipIndex: -1,
				GotPrevHash:   b.PrevHash,
			}
		}
		return nil
	}
	conflict := &ChainConflictError{
		LocalTipIndex:    tip.Index,
		LocalTipHash:     tip.BlockHash,
		ExpectedPrevHash: tip.BlockHash,
		GotPrevHash:      b.PrevHash,
	}
	switch {
	case b.PrevHash != tip.BlockHash:
		conflict.Reason = "prev_hash mismatch"
	case b.Index != tip.Index+1:
		conflict.Reason = fmt.Sprintf("index mismatch: expected %d, got %d", tip.Index+1, b.Index)
	default:
		return nil
	}
	return conflict
}
