package types

import (
	"errors"
	"fmt"

	"github.com/gitzhang10/pbftchain/sign"
)

// Block is one hash-linked entry of the chain.
// PrevHash is empty for the block at index 0.
type Block struct {
	Index     int64  `json:"index"`
	Value     string `json:"value"`
	PrevHash  string `json:"prev_hash"`
	Timestamp string `json:"timestamp"`
	Proposer  string `json:"proposer"`
	Signature string `json:"signature"`
	BlockHash string `json:"block_hash"`
}

// Payload returns the canonical fields of the block, excluding its hash and signature.
func (b *Block) Payload() sign.Record {
	return sign.Record{
		"index":     b.Index,
		"value":     b.Value,
		"prev_hash": b.PrevHash,
		"timestamp": b.Timestamp,
		"proposer":  b.Proposer,
	}
}

// ComputeHash recomputes the content hash from the payload fields.
func (b *Block) ComputeHash() (string, error) {
	return sign.ContentHash(b.Payload())
}

// Validate checks that every required field is present. Only PrevHash may be
// empty, on the block at index 0.
func (b *Block) Validate() error {
	switch {
	case b.Index < 0:
		return fmt.Errorf("negative index %d", b.Index)
	case b.Value == "":
		return errors.New("missing value")
	case b.Timestamp == "":
		return errors.New("missing timestamp")
	case b.Proposer == "":
		return errors.New("missing proposer")
	case b.Signature == "":
		return errors.New("missing signature")
	case b.BlockHash == "":
		return errors.New("missing block_hash")
	}
	return checkText(b.Value, b.PrevHash, b.Timestamp, b.Proposer)
}

func (b *Block) String() string {
	h := b.BlockHash
	if len(h) > 10 {
		h = h[:10]
	}
	return fmt.Sprintf("Block#%d %s... val=%s", b.Index, h, b.Value)
}
