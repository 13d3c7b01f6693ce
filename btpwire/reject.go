package btpwire

import "io"

// Reject is sent to disavow a prepared transfer before it has been fulfilled.
// The reason for the rejection travels as an "ilp" sub-protocol entry
// carrying a serialized interledger error.
type Reject struct {
	// TransferID references the prepared transfer being cancelled.
	TransferID TransferID

	// ProtocolData carries the rejection reason as the "ilp" entry.
	ProtocolData []ProtocolData
}

// NewReject returns a new Reject message.
func NewReject(id TransferID, protocolData []ProtocolData) *Reject {
	return &Reject{
		TransferID:   id,
		ProtocolData: protocolData,
	}
}

// A compile time check to ensure Reject implements the btpwire.Message
// interface.
var _ Message = (*Reject)(nil)

// Decode deserializes a serialized Reject message stored in the passed
// io.Reader.
//
// This is part of the btpwire.Message interface.
func (c *Reject) Decode(r io.Reader) error {
	return readElements(r,
		&c.TransferID,
		&c.ProtocolData,
	)
}

// Encode serializes the target Reject into the passed io.Writer.
//
// This is part of the btpwire.Message interface.
func (c *Reject) Encode(w io.Writer) error {
	return writeElements(w,
		c.TransferID,
		c.ProtocolData,
	)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the btpwire.Message interface.
func (c *Reject) MsgType() MessageType {
	return MsgReject
}

// MaxPayloadLength returns the maximum allowed payload size for a Reject
// complete message.
//
// This is part of the btpwire.Message interface.
func (c *Reject) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

// SubProtocols returns the sub-protocol entries of the message.
//
// This is part of the btpwire.Message interface.
func (c *Reject) SubProtocols() []ProtocolData {
	return c.ProtocolData
}
