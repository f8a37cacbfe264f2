package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gitzhang10/pbftchain/pbft"
	"github.com/gitzhang10/pbftchain/types"
)

type proposeRequest struct {
	Value string `json:"value"`
}

func (s *server) propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Err: err.Error()})
		return
	}
	if req.Value == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Err: "need value"})
		return
	}
	res, err := s.node.Propose(req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) phase(handle func(*types.PhaseMessage) (*pbft.Ack, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg types.PhaseMessage
		if err := decodeBody(w, r, &msg); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Err: err.Error()})
			return
		}
		ack, err := handle(&msg)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, ack)
	}
}

// blockRequest tells a missing index apart from index 0.
type blockRequest struct {
	Index     *int64 `json:"index"`
	Value     string `json:"value"`
	PrevHash  string `json:"prev_hash"`
	Timestamp string `json:"timestamp"`
	Proposer  string `json:"proposer"`
	Signature string `json:"signature"`
	BlockHash string `json:"block_hash"`
}

func (s *server) block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Err: err.Error()})
		return
	}
	if req.Index == nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Err: "missing index"})
		return
	}
	res, err := s.node.HandleBlock(&types.Block{
		Index:     *req.Index,
		Value:     req.Value,
		PrevHash:  req.PrevHash,
		Timestamp: req.Timestamp,
		Proposer:  req.Proposer,
		Signature: req.Signature,
		BlockHash: req.BlockHash,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.node.Status(r.URL.Query().Get("value"))
	if err != nil {
		if errors.Is(err, pbft.ErrMalformed) {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Err: "need value"})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

type chainEntry struct {
	Index     int64  `json:"index"`
	Value     string `json:"value"`
	PrevHash  string `json:"prev_hash"`
	Timestamp string `json:"timestamp"`
	Proposer  string `json:"proposer"`
	BlockHash string `json:"block_hash"`
}

type chainResponse struct {
	Chain  []chainEntry `json:"chain"`
	Length int          `json:"length"`
}

func (s *server) blocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.node.Chain()
	if err != nil {
		s.writeError(w, fmt.Errorf("read the chain: %w", err))
		return
	}
	res := chainResponse{Chain: make([]chainEntry, 0, len(blocks)), Length: len(blocks)}
	for _, b := range blocks {
		res.Chain = append(res.Chain, chainEntry{
			Index:     b.Index,
			Value:     b.Value,
			PrevHash:  b.PrevHash,
			Timestamp: b.Timestamp,
			Proposer:  b.Proposer,
			BlockHash: b.BlockHash,
		})
	}
	s.writeJSON(w, http.StatusOK, res)
}
