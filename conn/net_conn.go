/*
Package conn implements the gateways a node uses to deliver messages to
other nodes.

NetworkTransport keeps pooled TCP connections and frames each message as a
type byte followed by its msgpack encoding. A connection is only used in an
unidirectional manner: if node1 dials node2, the connection carries data
from node1 to node2.

HTTPTransport posts each message as JSON to the route registered for its
type and can return the receiver's response.
*/
package conn

import (
	"bufio"
	"net"

	"github.com/hashicorp/go-msgpack/codec"
)

// NetConn represents a connection established from one node to another.
type NetConn struct {
	target string
	conn   net.Conn
	w      *bufio.Writer
	enc    *codec.Encoder
}

// Release closes the connection in a NetConn variable.
func (n *NetConn) Release() error {
	return n.conn.Close()
}
