// Package types defines the records exchanged and stored by a node: phase
// messages, decisions and blocks, together with the canonical payloads they
// are signed and hashed over.
package types
