package btpplugin

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
)

// ParseTransferID parses a transfer's UUID string into its 16 wire bytes.
func ParseTransferID(id string) (btpwire.TransferID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return btpwire.TransferID{}, fmt.Errorf("invalid transfer id "+
			"%q: %v", id, err)
	}
	return btpwire.TransferID(parsed), nil
}

// FormatTransferID renders 16 wire bytes as the canonical UUID string.
func FormatTransferID(id btpwire.TransferID) string {
	return uuid.UUID(id).String()
}

// ParseFulfillment decodes an unpadded base64url fulfillment or condition
// and insists on exactly 32 bytes.
func ParseFulfillment(encoded string) ([32]byte, error) {
	var out [32]byte

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("not base64url: %v", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}

	copy(out[:], raw)
	return out, nil
}

// FormatFulfillment renders 32 bytes as unpadded base64url, the transport
// encoding of fulfillments and conditions.
func FormatFulfillment(raw [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// VerifyFulfillment checks the hash closure between a fulfillment and its
// condition.
func VerifyFulfillment(fulfillment, condition [32]byte) bool {
	return sha256.Sum256(fulfillment[:]) == condition
}

// ValidateAddress checks an ILP address lives below the given ledger
// prefix.
func ValidateAddress(prefix, address string) error {
	if !strings.HasPrefix(address, prefix) {
		return fmt.Errorf("address %q must start with ledger prefix "+
			"%q", address, prefix)
	}
	return nil
}

// ValidateTransfer runs the schema checks every transfer must pass before
// it reaches the log: a proper UUID, a positive amount, a condition and a
// deadline.
func ValidateTransfer(transfer *transferlog.Transfer) error {
	if _, err := uuid.Parse(transfer.ID); err != nil {
		return fmt.Errorf("invalid transfer id %q: %v", transfer.ID,
			err)
	}
	if transfer.Amount == 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	if transfer.ExecutionCondition == [32]byte{} {
		return fmt.Errorf("transfer is missing an execution condition")
	}
	if transfer.ExpiresAt.IsZero() {
		return fmt.Errorf("transfer is missing an expiry")
	}
	return nil
}
