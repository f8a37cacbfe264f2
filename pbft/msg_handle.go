package pbft

import (
	"errors"
	"fmt"

	"github.com/gitzhang10/pbftchain/sign"
	"github.com/gitzhang10/pbftchain/types"
)

// Ack acknowledges an inbound phase message.
type Ack struct {
	Status string `json:"status"`
	Value  string `json:"value"`
}

// HandlePrePrepare logs a verified PRE-PREPARE and emits this node's PREPARE.
func (n *Node) HandlePrePrepare(msg *types.PhaseMessage) (*Ack, error) {
	if err := n.acceptVote(msg, types.PrePrepare); err != nil {
		return nil, err
	}
	if _, err := n.emitVote(types.Prepare, msg.Value); err != nil {
		return nil, err
	}
	return &Ack{Status: "prepare_sent", Value: msg.Value}, nil
}

// HandlePrepare logs a verified PREPARE and emits this node's COMMIT once
// PREPARE votes from a quorum of distinct senders are logged.
func (n *Node) HandlePrepare(msg *types.PhaseMessage) (*Ack, error) {
	if err := n.acceptVote(msg, types.Prepare); err != nil {
		return nil, err
	}
	count, err := n.store.DistinctSenderCount(types.Prepare, msg.Value)
	if err != nil {
		return nil, err
	}
	if count >= n.quorumNum {
		emitted, err := n.emitVote(types.Commit, msg.Value)
		if err != nil {
			return nil, err
		}
		if emitted {
			n.logger.Info("prepare quorum reached", "value", msg.Value, "count", count)
		}
	}
	return &Ack{Status: "prepare_received", Value: msg.Value}, nil
}

// HandleCommit logs a verified COMMIT and decides the value once COMMIT votes
// from a quorum of distinct senders are logged. The primary then builds the
// next block for it.
func (n *Node) HandleCommit(msg *types.PhaseMessage) (*Ack, error) {
	if err := n.acceptVote(msg, types.Commit); err != nil {
		return nil, err
	}
	count, err := n.store.DistinctSenderCount(types.Commit, msg.Value)
	if err != nil {
		return nil, err
	}
	if count >= n.quorumNum {
		created, err := n.store.CreateDecision(msg.Value, n.now())
		if err != nil {
			return nil, err
		}
		if created {
			n.metrics.decisions.Inc()
			n.logger.Info("value is decided", "value", msg.Value, "count", count)
			if n.IsPrimary() {
				if _, err = n.buildNextBlock(msg.Value); err != nil {
					return nil, err
				}
			}
		}
	}
	return &Ack{Status: "commit_received", Value: msg.Value}, nil
}

// acceptVote validates, authenticates and logs an inbound vote for phase.
func (n *Node) acceptVote(msg *types.PhaseMessage, phase types.Phase) error {
	err := msg.Validate()
	if err == nil && msg.Phase != phase {
		err = fmt.Errorf("phase %s delivered as %s", msg.Phase, phase)
	}
	if err != nil {
		n.reject(string(phase), "malformed", err)
		return malformed(err)
	}
	if !sign.Verify(msg.SignedRecord(), msg.Signature, n.secret) {
		n.reject(string(phase), "signature", ErrBadSignature)
		return ErrBadSignature
	}
	_, err = n.logVote(msg)
	return err
}

func (n *Node) reject(kind, reason string, err error) {
	n.metrics.rejected.WithLabelValues(kind, reason).Inc()
	n.logger.Warn("message is rejected", "kind", kind, "reason", reason, "error", err)
}

// HandleMsgLoop dispatches messages delivered by a stream transport.
func (n *Node) HandleMsgLoop(msgCh <-chan interface{}) {
	for msg := range msgCh {
		switch msgAsserted := msg.(type) {
		case Proposal:
			go func(value string) {
				n.logError(n.Propose(value))
			}(msgAsserted.Value)
		case types.PhaseMessage:
			go n.handlePhaseMsg(&msgAsserted)
		case types.Block:
			go func(b *types.Block) {
				n.logError(n.HandleBlock(b))
			}(&msgAsserted)
		default:
			n.logger.Error("the msg type is unknown", "type", fmt.Sprintf("%T", msg))
		}
	}
}

func (n *Node) handlePhaseMsg(msg *types.PhaseMessage) {
	switch msg.Phase {
	case types.PrePrepare:
		n.logError(n.HandlePrePrepare(msg))
	case types.Prepare:
		n.logError(n.HandlePrepare(msg))
	case types.Commit:
		n.logError(n.HandleCommit(msg))
	default:
		n.reject(string(msg.Phase), "malformed", errors.New("unknown phase"))
	}
}

func (n *Node) logError(_ interface{}, err error) {
	if err != nil && !errors.Is(err, ErrBadSignature) && !errors.Is(err, ErrMalformed) {
		n.logger.Error("fail to handle the msg", "error", err)
	}
}
