package pbft

import (
	"errors"
	"fmt"

	"github.com/gitzhang10/pbftchain/sign"
	"github.com/gitzhang10/pbftchain/types"
)

var errMissingValue = errors.New("need value")

// ProposeResult acknowledges a proposal. On a non-primary node Status relays
// the primary's response verbatim.
type ProposeResult struct {
	Status      string `json:"status"`
	Value       string `json:"value,omitempty"`
	ForwardedTo string `json:"forwarded_to,omitempty"`
}

// Propose starts agreement on value. Only the primary proposes; other nodes
// forward the request to it.
func (n *Node) Propose(value string) (*ProposeResult, error) {
	if value == "" {
		return nil, malformed(errMissingValue)
	}
	if !n.IsPrimary() {
		return n.forwardProposal(value)
	}

	msg, err := n.newPhaseMessage(types.PrePrepare, value)
	if err != nil {
		return nil, err
	}
	if _, err = n.logVote(msg); err != nil {
		return nil, err
	}
	n.logger.Info("pre-prepare is broadcast", "value", value)
	n.broadcast(PrePrepareTag, msg, true)
	return &ProposeResult{Status: "preprepare_broadcast", Value: value}, nil
}

func (n *Node) forwardProposal(value string) (*ProposeResult, error) {
	p := &Proposal{Value: value}
	n.logger.Debug("forward the proposal to the primary", "value", value, "primary", n.primary)
	if r, ok := n.gateway.(Requester); ok {
		resp, err := r.RequestMsg(n.primary, ProposalTag, p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrimaryUnreachable, err)
		}
		return &ProposeResult{ForwardedTo: n.primary, Status: string(resp)}, nil
	}
	if err := n.gateway.SendMsg(n.primary, ProposalTag, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrimaryUnreachable, err)
	}
	return &ProposeResult{ForwardedTo: n.primary, Status: "forwarded"}, nil
}

func (n *Node) newPhaseMessage(phase types.Phase, value string) (*types.PhaseMessage, error) {
	msg := &types.PhaseMessage{
		Phase:     phase,
		Value:     value,
		Sender:    n.name,
		Timestamp: types.Unix(n.now()),
	}
	sig, err := sign.Sign(msg.SignedRecord(), n.secret)
	if err != nil {
		return nil, err
	}
	msg.Signature = sig
	return msg, nil
}

// emitVote signs, logs and broadcasts this node's vote for (phase, value).
// The vote is emitted at most once: the insert-if-absent on the message log
// decides which caller broadcasts.
func (n *Node) emitVote(phase types.Phase, value string) (bool, error) {
	voted, err := n.store.HasMessage(phase, value, n.name)
	if err != nil || voted {
		return false, err
	}
	msg, err := n.newPhaseMessage(phase, value)
	if err != nil {
		return false, err
	}
	inserted, err := n.logVote(msg)
	if err != nil || !inserted {
		return false, err
	}
	n.logger.Debug("vote is broadcast", "phase", phase, "value", value)
	n.broadcast(phaseTags[phase], msg, true)
	return true, nil
}

func (n *Node) logVote(msg *types.PhaseMessage) (bool, error) {
	inserted, err := n.store.PutMessage(msg)
	if err != nil {
		return false, err
	}
	if inserted {
		n.metrics.votes.WithLabelValues(string(msg.Phase)).Inc()
	}
	return inserted, nil
}

// broadcast sends msg to every node without waiting for any of them.
// Failed deliveries are dropped.
func (n *Node) broadcast(msgType uint8, msg interface{}, includeSelf bool) {
	for _, target := range n.nodes {
		if !includeSelf && target == n.name {
			continue
		}
		go func(target string) {
			if err := n.gateway.SendMsg(target, msgType, msg); err != nil {
				n.logger.Debug("fail to deliver the msg", "receiver", target, "type", msgType, "error", err)
			}
		}(target)
	}
}
