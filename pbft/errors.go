package pbft

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a required field is missing or invalid.
	ErrMalformed = errors.New("malformed message")
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("bad signature")
	// ErrBadBlockSignature is returned when a block signature does not verify.
	// It matches ErrBadSignature through errors.Is.
	ErrBadBlockSignature = fmt.Errorf("bad block %w", ErrBadSignature)
	// ErrHashMismatch is returned when a block's declared hash is not its content hash.
	ErrHashMismatch = errors.New("block_hash mismatch")
	// ErrChainConflict is matched by every *ChainConflictError.
	ErrChainConflict = errors.New("chain conflict")
	// ErrPrimaryUnreachable is returned when a proposal cannot be forwarded.
	ErrPrimaryUnreachable = errors.New("primary unreachable")
)

// ChainConflictError reports a block that does not extend the local tip.
// LocalTipIndex is -1 on an empty chain.
type ChainConflictError struct {
	Reason           string
	LocalTipIndex    int64
	LocalTipHash     string
	ExpectedPrevHash string
	GotPrevHash      string
}

func (e *ChainConflictError) Error() string {
	return fmt.Sprintf("%s: local tip %d (%s), got prev_hash %q", e.Reason, e.LocalTipIndex, e.LocalTipHash, e.GotPrevHash)
}

func (e *ChainConflictError) Is(target error) bool {
	return target == ErrChainConflict
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
