package conn

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gitzhang10/pbftchain/types"
)

const (
	voteTag uint8 = iota
	blockTag
)

var testTypesMap = map[uint8]reflect.Type{
	voteTag:  reflect.TypeOf(types.PhaseMessage{}),
	blockTag: reflect.TypeOf(types.Block{}),
}

func newTestTCPTransport(t *testing.T) *NetworkTransport {
	trans, err := NewTCPTransport("127.0.0.1:0", 2*time.Second, nil, 1, testTypesMap)
	require.NoError(t, err)
	t.Cleanup(func() { trans.Close() })
	return trans
}

func receive(t *testing.T, trans *NetworkTransport) interface{} {
	select {
	case msg := <-trans.MsgChan():
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no msg is received")
		return nil
	}
}

// TestSimpleComm tests if node1 (client) can connect to node2 (server) and
// deliver messages of different types over the same pooled connection.
func TestSimpleComm(t *testing.T) {
	server := newTestTCPTransport(t)
	client := newTestTCPTransport(t)

	vote := types.PhaseMessage{
		Phase:     types.Prepare,
		Value:     "X",
		Sender:    client.LocalAddr(),
		Timestamp: 1700000000.25,
		Signature: "abcd",
	}
	require.NoError(t, client.SendMsg(server.LocalAddr(), voteTag, &vote))
	received, ok := receive(t, server).(types.PhaseMessage)
	require.True(t, ok, "received msg is not of type: PhaseMessage")
	require.Equal(t, vote, received)

	block := types.Block{
		Index:     1,
		Value:     "Y",
		PrevHash:  "ff",
		Timestamp: "2024-01-01T00:00:00Z",
		Proposer:  client.LocalAddr(),
		Signature: "01",
		BlockHash: "02",
	}
	require.NoError(t, client.SendMsg(server.LocalAddr(), blockTag, &block))
	receivedBlock, ok := receive(t, server).(types.Block)
	require.True(t, ok, "received msg is not of type: Block")
	require.Equal(t, block, receivedBlock)

	// the connection went back to the pool
	client.connPoolLock.Lock()
	require.Len(t, client.connPool[server.LocalAddr()], 1)
	client.connPoolLock.Unlock()
}

func TestSendToUnreachableNode(t *testing.T) {
	server := newTestTCPTransport(t)
	addr := server.LocalAddr()
	require.NoError(t, server.Close())

	client := newTestTCPTransport(t)
	err := client.SendMsg(addr, voteTag, &types.PhaseMessage{Phase: types.Commit, Value: "X"})
	require.Error(t, err)
}

func TestSendAfterClose(t *testing.T) {
	server := newTestTCPTransport(t)
	client := newTestTCPTransport(t)
	require.NoError(t, client.Close())
	require.True(t, client.IsShutdown())

	err := client.SendMsg(server.LocalAddr(), voteTag, &types.PhaseMessage{Phase: types.Commit, Value: "X"})
	require.ErrorIs(t, err, ErrTransportShutdown)
	// closing twice is harmless
	require.NoError(t, client.Close())
}

func TestUnknownTypeIsDropped(t *testing.T) {
	server := newTestTCPTransport(t)
	client := newTestTCPTransport(t)

	require.NoError(t, client.SendMsg(server.LocalAddr(), 42, &types.PhaseMessage{Value: "X"}))
	select {
	case msg := <-server.MsgChan():
		t.Fatalf("unexpected msg %v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}
