package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gitzhang10/pbftchain/types"
)

func backends(t *testing.T) map[string]Store {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
}

func vote(phase types.Phase, value, sender string, ts float64) *types.PhaseMessage {
	return &types.PhaseMessage{Phase: phase, Value: value, Sender: sender, Timestamp: ts, Signature: fmt.Sprintf("sig-%v", ts)}
}

func TestPutMessageIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.PutMessage(vote(types.Prepare, "X", "n1", 1))
			require.NoError(t, err)
			require.True(t, ok)

			// redelivery with a different timestamp is still a no-op
			ok, err = s.PutMessage(vote(types.Prepare, "X", "n1", 2))
			require.NoError(t, err)
			require.False(t, ok)

			c, err := s.DistinctSenderCount(types.Prepare, "X")
			require.NoError(t, err)
			require.Equal(t, 1, c)

			has, err := s.HasMessage(types.Prepare, "X", "n1")
			require.NoError(t, err)
			require.True(t, has)
			has, err = s.HasMessage(types.Commit, "X", "n1")
			require.NoError(t, err)
			require.False(t, has)
		})
	}
}

func TestDistinctSenderCountPerPhaseAndValue(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, sender := range []string{"n0", "n1", "n2"} {
				_, err := s.PutMessage(vote(types.Prepare, "X", sender, float64(i)))
				require.NoError(t, err)
			}
			_, err := s.PutMessage(vote(types.Commit, "X", "n0", 9))
			require.NoError(t, err)
			_, err = s.PutMessage(vote(types.Prepare, "Y", "n0", 9))
			require.NoError(t, err)

			c, _ := s.DistinctSenderCount(types.Prepare, "X")
			require.Equal(t, 3, c)
			c, _ = s.DistinctSenderCount(types.Commit, "X")
			require.Equal(t, 1, c)
			c, _ = s.DistinctSenderCount(types.Prepare, "Y")
			require.Equal(t, 1, c)
			c, _ = s.DistinctSenderCount(types.PrePrepare, "X")
			require.Equal(t, 0, c)
		})
	}
}

func TestConcurrentPutCountsOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			inserted := make(chan bool, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, err := s.PutMessage(vote(types.Commit, "X", fmt.Sprintf("n%d", i%4), float64(i)))
					if err != nil {
						t.Error(err)
					}
					inserted <- ok
				}(i)
			}
			wg.Wait()
			close(inserted)
			n := 0
			for ok := range inserted {
				if ok {
					n++
				}
			}
			require.Equal(t, 4, n)
			c, err := s.DistinctSenderCount(types.Commit, "X")
			require.NoError(t, err)
			require.Equal(t, 4, c)
		})
	}
}

func TestCreateDecisionOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			has, err := s.HasDecision("X")
			require.NoError(t, err)
			require.False(t, has)

			created, err := s.CreateDecision("X", time.Now())
			require.NoError(t, err)
			require.True(t, created)
			created, err = s.CreateDecision("X", time.Now())
			require.NoError(t, err)
			require.False(t, created)

			has, err = s.HasDecision("X")
			require.NoError(t, err)
			require.True(t, has)
		})
	}
}

func TestChainInsertAndTip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tip, err := s.Tip()
			require.NoError(t, err)
			require.Nil(t, tip)

			b0 := &types.Block{Index: 0, Value: "X", Timestamp: "t0", Proposer: "n0", Signature: "s0", BlockHash: "h0"}
			b1 := &types.Block{Index: 1, Value: "Y", PrevHash: "h0", Timestamp: "t1", Proposer: "n0", Signature: "s1", BlockHash: "h1"}
			for _, b := range []*types.Block{b0, b1} {
				ok, err := s.InsertBlock(b)
				require.NoError(t, err)
				require.True(t, ok)
			}

			// same height, different content
			ok, err := s.InsertBlock(&types.Block{Index: 1, Value: "Z", PrevHash: "h0", Timestamp: "t2", Proposer: "n0", Signature: "s2", BlockHash: "h2"})
			require.NoError(t, err)
			require.False(t, ok)

			tip, err = s.Tip()
			require.NoError(t, err)
			require.Equal(t, *b1, *tip)

			at, err := s.BlockAt(0)
			require.NoError(t, err)
			require.Equal(t, *b0, *at)
			at, err = s.BlockAt(5)
			require.NoError(t, err)
			require.Nil(t, at)

			blocks, err := s.Blocks()
			require.NoError(t, err)
			require.Equal(t, []types.Block{*b0, *b1}, blocks)
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.PutMessage(vote(types.Prepare, "X", "n1", 1))
	require.NoError(t, err)
	_, err = s.CreateDecision("X", time.Now())
	require.NoError(t, err)
	_, err = s.InsertBlock(&types.Block{Index: 0, Value: "X", Timestamp: "t0", Proposer: "n0", Signature: "s0", BlockHash: "h0"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	c, err := s.DistinctSenderCount(types.Prepare, "X")
	require.NoError(t, err)
	require.Equal(t, 1, c)
	has, err := s.HasDecision("X")
	require.NoError(t, err)
	require.True(t, has)
	tip, err := s.Tip()
	require.NoError(t, err)
	require.Equal(t, "h0", tip.BlockHash)
}

func TestOpen(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.IsType(t, &MemStore{}, s)

	s, err = Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer s.Close()
	require.IsType(t, &SQLiteStore{}, s)
}
