package types

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gitzhang10/pbftchain/sign"
)

// Phase names one voting round of the agreement protocol.
type Phase string

const (
	PrePrepare Phase = "PREPREPARE"
	Prepare    Phase = "PREPARE"
	Commit     Phase = "COMMIT"
)

// Phases lists every phase in protocol order.
var Phases = []Phase{PrePrepare, Prepare, Commit}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PrePrepare, Prepare, Commit:
		return true
	}
	return false
}

// PhaseMessage is a single vote. It is unique on (Phase, Value, Sender).
type PhaseMessage struct {
	Phase     Phase   `json:"phase"`
	Value     string  `json:"value"`
	Sender    string  `json:"sender"`
	Timestamp float64 `json:"timestamp"`
	Signature string  `json:"signature"`
}

// SignedRecord returns the fields covered by the signature.
func (m *PhaseMessage) SignedRecord() sign.Record {
	return sign.Record{
		"phase":     m.Phase,
		"value":     m.Value,
		"sender":    m.Sender,
		"timestamp": m.Timestamp,
	}
}

// Validate checks that every required field is present.
func (m *PhaseMessage) Validate() error {
	switch {
	case !m.Phase.Valid():
		return fmt.Errorf("unknown phase %q", m.Phase)
	case m.Value == "":
		return errors.New("missing value")
	case m.Sender == "":
		return errors.New("missing sender")
	case m.Timestamp == 0:
		return errors.New("missing timestamp")
	case m.Signature == "":
		return errors.New("missing signature")
	}
	return checkText(m.Value, m.Sender)
}

// checkText rejects strings that have no canonical encoding.
func checkText(fields ...string) error {
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return fmt.Errorf("invalid utf-8 in %q", f)
		}
	}
	return nil
}

// Unix converts t to the fractional seconds carried in Timestamp.
func Unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Decision records that a value completed all three phases.
type Decision struct {
	Value     string
	Decided   bool
	DecidedAt time.Time
}
