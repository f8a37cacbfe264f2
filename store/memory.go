package store

import (
	"sort"
	"sync"
	"time"

	"github.com/gitzhang10/pbftchain/types"
)

type msgKey struct {
	phase  types.Phase
	value  string
	sender string
}

type countKey struct {
	phase types.Phase
	value string
}

// MemStore is an in-memory Store.
type MemStore struct {
	lock      sync.RWMutex
	messages  map[msgKey]types.PhaseMessage
	senders   map[countKey]map[string]struct{} // map from (phase, value) to the senders
	decisions map[string]types.Decision
	blocks    map[int64]types.Block
	hashes    map[string]int64 // map from block hash to index
	tip       int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		messages:  make(map[msgKey]types.PhaseMessage),
		senders:   make(map[countKey]map[string]struct{}),
		decisions: make(map[string]types.Decision),
		blocks:    make(map[int64]types.Block),
		hashes:    make(map[string]int64),
		tip:       -1,
	}
}

func (s *MemStore) PutMessage(msg *types.PhaseMessage) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := msgKey{msg.Phase, msg.Value, msg.Sender}
	if _, ok := s.messages[key]; ok {
		return false, nil
	}
	s.messages[key] = *msg
	ck := countKey{msg.Phase, msg.Value}
	if _, ok := s.senders[ck]; !ok {
		s.senders[ck] = make(map[string]struct{})
	}
	s.senders[ck][msg.Sender] = struct{}{}
	return true, nil
}

func (s *MemStore) HasMessage(phase types.Phase, value, sender string) (bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.messages[msgKey{phase, value, sender}]
	return ok, nil
}

func (s *MemStore) DistinctSenderCount(phase types.Phase, value string) (int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.senders[countKey{phase, value}]), nil
}

func (s *MemStore) CreateDecision(value string, at time.Time) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.decisions[value]; ok {
		return false, nil
	}
	s.decisions[value] = types.Decision{Value: value, Decided: true, DecidedAt: at}
	return true, nil
}

func (s *MemStore) HasDecision(value string) (bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	d, ok := s.decisions[value]
	return ok && d.Decided, nil
}

func (s *MemStore) Tip() (*types.Block, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.tip < 0 {
		return nil, nil
	}
	b := s.blocks[s.tip]
	return &b, nil
}

func (s *MemStore) BlockAt(index int64) (*types.Block, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	b, ok := s.blocks[index]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *MemStore) InsertBlock(b *types.Block) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.blocks[b.Index]; ok {
		return false, nil
	}
	if _, ok := s.hashes[b.BlockHash]; ok {
		return false, nil
	}
	s.blocks[b.Index] = *b
	s.hashes[b.BlockHash] = b.Index
	if b.Index > s.tip {
		s.tip = b.Index
	}
	return true, nil
}

func (s *MemStore) Blocks() ([]types.Block, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	blocks := make([]types.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Index < blocks[j].Index
	})
	return blocks, nil
}

func (s *MemStore) Close() error {
	return nil
}
