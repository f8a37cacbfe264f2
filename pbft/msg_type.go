package pbft

import (
	"reflect"

	"github.com/gitzhang10/pbftchain/types"
)

const (
	ProposalTag uint8 = iota
	PrePrepareTag
	PrepareTag
	CommitTag
	BlockTag
)

// Proposal asks the primary to start agreement on Value.
type Proposal struct {
	Value string `json:"value"`
}

var proposal Proposal
var phaseMsg types.PhaseMessage
var block types.Block

// ReflectedTypesMap tells the TCP transport how to decode each tag.
var ReflectedTypesMap = map[uint8]reflect.Type{
	ProposalTag:   reflect.TypeOf(proposal),
	PrePrepareTag: reflect.TypeOf(phaseMsg),
	PrepareTag:    reflect.TypeOf(phaseMsg),
	CommitTag:     reflect.TypeOf(phaseMsg),
	BlockTag:      reflect.TypeOf(block),
}

// Paths maps each tag to the HTTP route that receives it.
var Paths = map[uint8]string{
	ProposalTag:   "/propose",
	PrePrepareTag: "/preprepare",
	PrepareTag:    "/prepare",
	CommitTag:     "/commit",
	BlockTag:      "/block",
}

var phaseTags = map[types.Phase]uint8{
	types.PrePrepare: PrePrepareTag,
	types.Prepare:    PrepareTag,
	types.Commit:     CommitTag,
}
