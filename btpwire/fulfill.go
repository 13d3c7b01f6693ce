package btpwire

import "io"

// Fulfill is sent by the receiver of a prepared transfer once it has learned
// the 32 byte preimage of the transfer's execution condition. A valid Fulfill
// moves the escrowed amount to the sender of this message.
type Fulfill struct {
	// TransferID references the prepared transfer being settled.
	TransferID TransferID

	// Fulfillment is the preimage whose SHA-256 hash equals the transfer's
	// execution condition.
	Fulfillment [32]byte

	// ProtocolData carries sub-protocol entries riding along with the
	// fulfillment, such as a payment channel claim.
	ProtocolData []ProtocolData
}

// NewFulfill returns a new Fulfill message.
func NewFulfill(id TransferID, fulfillment [32]byte,
	protocolData []ProtocolData) *Fulfill {

	return &Fulfill{
		TransferID:   id,
		Fulfillment:  fulfillment,
		ProtocolData: protocolData,
	}
}

// A compile time check to ensure Fulfill implements the btpwire.Message
// interface.
var _ Message = (*Fulfill)(nil)

// Decode deserializes a serialized Fulfill message stored in the passed
// io.Reader.
//
// This is part of the btpwire.Message interface.
func (f *Fulfill) Decode(r io.Reader) error {
	return readElements(r,
		&f.TransferID,
		&f.Fulfillment,
		&f.ProtocolData,
	)
}

// Encode serializes the target Fulfill into the passed io.Writer.
//
// This is part of the btpwire.Message interface.
func (f *Fulfill) Encode(w io.Writer) error {
	return writeElements(w,
		f.TransferID,
		f.Fulfillment,
		f.ProtocolData,
	)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the btpwire.Message interface.
func (f *Fulfill) MsgType() MessageType {
	return MsgFulfill
}

// MaxPayloadLength returns the maximum allowed payload size for a Fulfill
// complete message.
//
// This is part of the btpwire.Message interface.
func (f *Fulfill) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

// SubProtocols returns the sub-protocol entries of the message.
//
// This is part of the btpwire.Message interface.
func (f *Fulfill) SubProtocols() []ProtocolData {
	return f.ProtocolData
}
