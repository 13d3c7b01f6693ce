package btpwire

import (
	"io"
	"time"
)

// Prepare is sent by a peer when it wishes to escrow an amount behind a
// SHA-256 condition. The receiving peer records the transfer as prepared and
// must either see a matching Fulfill before ExpiresAt, or reclaim the escrow
// once the transfer expires.
type Prepare struct {
	// TransferID uniquely identifies the conditional transfer for the
	// lifetime of the relationship between both peers.
	TransferID TransferID

	// Amount is the escrowed amount in the ledger's base unit.
	Amount uint64

	// ExecutionCondition is the SHA-256 hash whose preimage releases the
	// escrowed amount.
	ExecutionCondition [32]byte

	// ExpiresAt is the instant after which the transfer can no longer be
	// fulfilled.
	ExpiresAt time.Time

	// ProtocolData carries the sub-protocol entries attached to the
	// transfer, typically an "ilp" packet.
	ProtocolData []ProtocolData
}

// NewPrepare returns a new Prepare message.
func NewPrepare(id TransferID, amount uint64, condition [32]byte,
	expiresAt time.Time, protocolData []ProtocolData) *Prepare {

	return &Prepare{
		TransferID:         id,
		Amount:             amount,
		ExecutionCondition: condition,
		ExpiresAt:          expiresAt,
		ProtocolData:       protocolData,
	}
}

// A compile time check to ensure Prepare implements the btpwire.Message
// interface.
var _ Message = (*Prepare)(nil)

// Decode deserializes a serialized Prepare message stored in the passed
// io.Reader.
//
// This is part of the btpwire.Message interface.
func (p *Prepare) Decode(r io.Reader) error {
	return readElements(r,
		&p.TransferID,
		&p.Amount,
		&p.ExecutionCondition,
		&p.ExpiresAt,
		&p.ProtocolData,
	)
}

// Encode serializes the target Prepare into the passed io.Writer.
//
// This is part of the btpwire.Message interface.
func (p *Prepare) Encode(w io.Writer) error {
	return writeElements(w,
		p.TransferID,
		p.Amount,
		p.ExecutionCondition,
		p.ExpiresAt,
		p.ProtocolData,
	)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the btpwire.Message interface.
func (p *Prepare) MsgType() MessageType {
	return MsgPrepare
}

// MaxPayloadLength returns the maximum allowed payload size for a Prepare
// complete message.
//
// This is part of the btpwire.Message interface.
func (p *Prepare) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

// SubProtocols returns the sub-protocol entries of the message.
//
// This is part of the btpwire.Message interface.
func (p *Prepare) SubProtocols() []ProtocolData {
	return p.ProtocolData
}
