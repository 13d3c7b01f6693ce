package btpplugin

import (
	"context"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
)

// PaymentChannelBackend is the settlement layer hook. The plugin keeps the
// ledger of conditional transfers; the backend turns fulfilled balances into
// actual claims on whatever payment channel both peers share. Backends must
// not reach into the transfer log, everything they need arrives through
// these hooks.
type PaymentChannelBackend interface {
	// Connect is invoked while the plugin connects.
	Connect(ctx context.Context) error

	// Disconnect is invoked while the plugin disconnects.
	Disconnect(ctx context.Context) error

	// HandleIncomingPrepare vets an incoming prepared transfer. A
	// returned error cancels the transfer and crosses back to the peer.
	HandleIncomingPrepare(ctx context.Context,
		transfer *transferlog.Transfer) error

	// CreateOutgoingClaim produces the claim handed to the peer after an
	// outgoing transfer was fulfilled. outgoingFulfilled is the running
	// total of everything fulfilled in the outgoing direction.
	CreateOutgoingClaim(ctx context.Context, outgoingFulfilled int64) (
		[]byte, error)

	// HandleIncomingClaim digests the claim the peer attached to its
	// response after we fulfilled an incoming transfer.
	HandleIncomingClaim(ctx context.Context, claim []byte) error
}

// noopBackend is the default backend for plugins that track balances
// without settling them anywhere.
type noopBackend struct{}

// A compile time check to ensure noopBackend implements the
// PaymentChannelBackend interface.
var _ PaymentChannelBackend = (*noopBackend)(nil)

func (noopBackend) Connect(context.Context) error    { return nil }
func (noopBackend) Disconnect(context.Context) error { return nil }

func (noopBackend) HandleIncomingPrepare(context.Context,
	*transferlog.Transfer) error {

	return nil
}

func (noopBackend) CreateOutgoingClaim(context.Context, int64) ([]byte,
	error) {

	return nil, nil
}

func (noopBackend) HandleIncomingClaim(context.Context, []byte) error {
	return nil
}
