package transferlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// State describes where a transfer is in its lifecycle. Transfers start out
// prepared and reach exactly one of two terminal states.
type State uint8

const (
	// StatePrepared is the initial state: the amount is escrowed and the
	// transfer can still be fulfilled or cancelled.
	StatePrepared State = iota

	// StateFulfilled is the terminal state reached when a valid preimage
	// of the execution condition was presented in time.
	StateFulfilled

	// StateCancelled is the terminal state reached when the transfer was
	// rejected or expired.
	StateCancelled
)

// String returns the state as a human readable string.
func (s State) String() string {
	switch s {
	case StatePrepared:
		return "prepared"
	case StateFulfilled:
		return "fulfilled"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(s))
	}
}

// Transfer is a conditional obligation between the two peers: an amount
// escrowed behind a SHA-256 condition until a deadline.
type Transfer struct {
	// ID is the UUID of the transfer, unique for the lifetime of the
	// plugin instance.
	ID string `json:"id"`

	// From, To and Ledger are the routing fields stamped on ingress.
	From   string `json:"from"`
	To     string `json:"to"`
	Ledger string `json:"ledger"`

	// Amount is the escrowed amount in the ledger's base unit.
	Amount uint64 `json:"amount"`

	// ExecutionCondition is the SHA-256 hash the fulfillment preimage
	// must match.
	ExecutionCondition [32]byte `json:"executionCondition"`

	// ExpiresAt is the instant after which the transfer can no longer be
	// fulfilled.
	ExpiresAt time.Time `json:"expiresAt"`

	// Ilp is the opaque interledger packet attached to the transfer, if
	// any.
	Ilp []byte `json:"ilp,omitempty"`

	// Custom maps sub-protocol names to decoded side data attached to
	// the transfer.
	Custom map[string]interface{} `json:"custom,omitempty"`
}

// Equal reports whether two transfers have byte-equal contents. It is the
// test behind idempotent re-prepares: a duplicate id is only acceptable if
// nothing else differs.
func (t *Transfer) Equal(other *Transfer) bool {
	if t.ID != other.ID || t.From != other.From || t.To != other.To ||
		t.Ledger != other.Ledger || t.Amount != other.Amount ||
		t.ExecutionCondition != other.ExecutionCondition ||
		!t.ExpiresAt.Equal(other.ExpiresAt) ||
		!bytes.Equal(t.Ilp, other.Ilp) {

		return false
	}

	// Custom data has no canonical in-memory form, so compare the
	// serialized bytes.
	a, err := json.Marshal(t.Custom)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other.Custom)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Record is the ledger's view of a transfer: the transfer itself, which way
// it flows, its lifecycle state and the preimage once fulfilled.
type Record struct {
	Transfer *Transfer `json:"transfer"`

	// IsIncoming is true when the peer prepared this transfer towards
	// us.
	IsIncoming bool `json:"isIncoming"`

	State State `json:"state"`

	// Fulfillment holds the 32 byte preimage, only meaningful once State
	// is StateFulfilled.
	Fulfillment [32]byte `json:"fulfillment,omitempty"`
}
