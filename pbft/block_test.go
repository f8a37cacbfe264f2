package pbft

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gitzhang10/pbftchain/sign"
	"github.com/gitzhang10/pbftchain/types"
)

func signedBlock(t *testing.T, index int64, value, prevHash string) *types.Block {
	b := &types.Block{
		Index:     index,
		Value:     value,
		PrevHash:  prevHash,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Proposer:  "node0",
	}
	var err error
	b.BlockHash, err = b.ComputeHash()
	require.NoError(t, err)
	b.Signature, err = sign.Sign(b.Payload(), secret)
	require.NoError(t, err)
	return b
}

func TestGenesisRule(t *testing.T) {
	n := newTestNode("node1", clusterNames(4), &recordingGateway{})

	_, err := n.HandleBlock(signedBlock(t, 0, "X", "deadbeef"))
	var conflict *ChainConflictError
	require.True(t, errors.As(err, &conflict))
	require.ErrorIs(t, err, ErrChainConflict)
	require.Equal(t, int64(-1), conflict.LocalTipIndex)
	require.Empty(t, conflict.LocalTipHash)
	require.Equal(t, "deadbeef", conflict.GotPrevHash)

	_, err = n.HandleBlock(signedBlock(t, 3, "X", ""))
	require.ErrorIs(t, err, ErrChainConflict)

	genesis := signedBlock(t, 0, "X", "")
	res, err := n.HandleBlock(genesis)
	require.NoError(t, err)
	require.Equal(t, &BlockResult{Status: StatusAppended, Index: 0}, res)

	tip, err := n.store.Tip()
	require.NoError(t, err)
	require.Equal(t, *genesis, *tip)
}

func TestChainLinearity(t *testing.T) {
	n := newTestNode("node1", clusterNames(4), &recordingGateway{})
	genesis := signedBlock(t, 0, "X", "")
	_, err := n.HandleBlock(genesis)
	require.NoError(t, err)

	_, err = n.HandleBlock(signedBlock(t, 1, "Y", "0000"))
	var conflict *ChainConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "prev_hash mismatch", conflict.Reason)
	require.Equal(t, genesis.BlockHash, conflict.ExpectedPrevHash)
	require.Equal(t, genesis.BlockHash, conflict.LocalTipHash)
	require.Equal(t, int64(0), conflict.LocalTipIndex)
	require.Equal(t, "0000", conflict.GotPrevHash)

	next := signedBlock(t, 1, "Y", genesis.BlockHash)
	res, err := n.HandleBlock(next)
	require.NoError(t, err)
	require.Equal(t, StatusAppended, res.Status)

	tip, err := n.store.Tip()
	require.NoError(t, err)
	require.Equal(t, next.BlockHash, tip.BlockHash)

	// right parent, wrong height
	_, err = n.HandleBlock(signedBlock(t, 5, "Z", next.BlockHash))
	require.True(t, errors.As(err, &conflict))
	require.Contains(t, conflict.Reason, "index mismatch")
}

func TestBlockRedelivery(t *testing.T) {
	n := newTestNode("node1", clusterNames(4), &recordingGateway{})
	genesis := signedBlock(t, 0, "X", "")
	next := signedBlock(t, 1, "Y", genesis.BlockHash)
	for _, b := range []*types.Block{genesis, next} {
		_, err := n.HandleBlock(b)
		require.NoError(t, err)
	}

	res, err := n.HandleBlock(genesis)
	require.NoError(t, err)
	require.Equal(t, &BlockResult{Status: StatusAlreadyExists, Index: 0}, res)
	res, err = n.HandleBlock(next)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyExists, res.Status)

	blocks, err := n.Chain()
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, 2.0, testutil.ToFloat64(n.metrics.blocks.WithLabelValues(StatusAppended)))
}

func TestBlockIntegrity(t *testing.T) {
	n := newTestNode("node1", clusterNames(4), &recordingGateway{})

	b := signedBlock(t, 0, "X", "")
	b.BlockHash = strings.Repeat("0", 64)
	_, err := n.HandleBlock(b)
	require.ErrorIs(t, err, ErrHashMismatch)

	b = signedBlock(t, 0, "X", "")
	b.Value = "Y"
	_, err = n.HandleBlock(b)
	require.ErrorIs(t, err, ErrBadSignature)
	require.ErrorIs(t, err, ErrBadBlockSignature)
	require.EqualError(t, err, "bad block signature")

	b = signedBlock(t, 0, "X", "")
	b.Signature = ""
	_, err = n.HandleBlock(b)
	require.ErrorIs(t, err, ErrMalformed)

	blocks, err := n.Chain()
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestConcurrentBlocksSameHeight(t *testing.T) {
	n := newTestNode("node1", clusterNames(4), &recordingGateway{})
	a := signedBlock(t, 0, "X", "")
	b := signedBlock(t, 0, "Y", "")

	results := make(chan *BlockResult, 2)
	for _, blk := range []*types.Block{a, b} {
		go func(blk *types.Block) {
			res, err := n.HandleBlock(blk)
			if err != nil {
				// the loser may already see the winner as its tip
				if !errors.Is(err, ErrChainConflict) {
					t.Error(err)
				}
				res = &BlockResult{Status: "conflict"}
			}
			results <- res
		}(blk)
	}
	appended := 0
	for i := 0; i < 2; i++ {
		if (<-results).Status == StatusAppended {
			appended++
		}
	}
	require.Equal(t, 1, appended)
	blocks, err := n.Chain()
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}
