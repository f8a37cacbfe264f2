/*
Package pbft implements the three-phase agreement (PRE-PREPARE, PREPARE,
COMMIT) and the hash-linked chain that decided values are appended to.

The node keeps no protocol state in memory. Every decision is derived from
the distinct-sender counts of the message log and from the decision set, so
a node restarted on a durable store picks up where it stopped.
*/
package pbft

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gitzhang10/pbftchain/config"
	"github.com/gitzhang10/pbftchain/store"
	"github.com/gitzhang10/pbftchain/types"
)

// Gateway delivers one message to one node, best-effort and in bounded time.
type Gateway interface {
	SendMsg(target string, msgType uint8, msg interface{}) error
}

// Requester is implemented by gateways that can return the receiver's response.
// Proposals are forwarded through it when available.
type Requester interface {
	RequestMsg(target string, msgType uint8, msg interface{}) ([]byte, error)
}

// Quorum returns the number of tolerated faults f and the quorum size 2f+1
// for a cluster of n nodes.
func Quorum(n int) (f, q int) {
	f = (n - 1) / 3
	return f, 2*f + 1
}

type Node struct {
	name    string
	nodes   []string // all nodes including this one, nodes[0] is the primary
	primary string

	nodeNum   int
	faultyNum int
	quorumNum int

	secret  []byte
	store   store.Store
	gateway Gateway
	logger  hclog.Logger
	metrics *Metrics

	buildLock sync.Mutex // serializes block construction on the primary
	now       func() time.Time
}

// NewNode creates a node from conf. Collectors are registered with reg when it is not nil.
func NewNode(conf *config.Config, st store.Store, gateway Gateway, reg prometheus.Registerer) *Node {
	var n Node
	n.name = conf.Name
	n.nodes = conf.Nodes
	n.primary = conf.Primary()
	n.nodeNum = len(conf.Nodes)
	n.faultyNum, n.quorumNum = Quorum(n.nodeNum)
	n.secret = conf.Secret
	n.store = st
	n.gateway = gateway
	n.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "PBFT-node",
		Output: hclog.DefaultOutput,
		Level:  hclog.Level(conf.LogLevel),
	})
	n.metrics = NewMetrics(reg)
	n.now = time.Now
	return &n
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) IsPrimary() bool {
	return n.name == n.primary
}

func (n *Node) QuorumNum() int {
	return n.quorumNum
}

// Status is a read-only snapshot of the agreement on one value.
type Status struct {
	Value           string `json:"value"`
	PrePrepareCount int    `json:"preprepare_count"`
	PrepareCount    int    `json:"prepare_count"`
	CommitCount     int    `json:"commit_count"`
	Decided         bool   `json:"decided"`
	Quorum          int    `json:"quorum"`
}

func (n *Node) Status(value string) (*Status, error) {
	if value == "" {
		return nil, malformed(errMissingValue)
	}
	s := &Status{Value: value, Quorum: n.quorumNum}
	var err error
	if s.PrePrepareCount, err = n.store.DistinctSenderCount(types.PrePrepare, value); err != nil {
		return nil, err
	}
	if s.PrepareCount, err = n.store.DistinctSenderCount(types.Prepare, value); err != nil {
		return nil, err
	}
	if s.CommitCount, err = n.store.DistinctSenderCount(types.Commit, value); err != nil {
		return nil, err
	}
	if s.Decided, err = n.store.HasDecision(value); err != nil {
		return nil, err
	}
	return s, nil
}

// Chain returns the local chain ordered by index.
func (n *Node) Chain() ([]types.Block, error) {
	return n.store.Blocks()
}
