package btpwire

import "io"

// DataMessage is the free-form BTP MESSAGE type. It carries only sub-protocol
// entries and is used for everything that is not a transfer: the auth
// handshake, info/balance/limit queries, ilp quoting and any custom side
// protocols registered by the application.
type DataMessage struct {
	// ProtocolData holds the sub-protocol entries. The first entry names
	// the primary protocol the message should be dispatched on.
	ProtocolData []ProtocolData
}

// NewDataMessage returns a new DataMessage.
func NewDataMessage(protocolData []ProtocolData) *DataMessage {
	return &DataMessage{ProtocolData: protocolData}
}

// A compile time check to ensure DataMessage implements the btpwire.Message
// interface.
var _ Message = (*DataMessage)(nil)

// Decode deserializes a serialized DataMessage stored in the passed
// io.Reader.
//
// This is part of the btpwire.Message interface.
func (c *DataMessage) Decode(r io.Reader) error {
	return readElements(r, &c.ProtocolData)
}

// Encode serializes the target DataMessage into the passed io.Writer.
//
// This is part of the btpwire.Message interface.
func (c *DataMessage) Encode(w io.Writer) error {
	return writeElements(w, c.ProtocolData)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the btpwire.Message interface.
func (c *DataMessage) MsgType() MessageType {
	return MsgMessage
}

// MaxPayloadLength returns the maximum allowed payload size for a DataMessage
// complete message.
//
// This is part of the btpwire.Message interface.
func (c *DataMessage) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

// SubProtocols returns the sub-protocol entries of the message.
//
// This is part of the btpwire.Message interface.
func (c *DataMessage) SubProtocols() []ProtocolData {
	return c.ProtocolData
}

// PrimaryProtocol returns the name of the first sub-protocol entry, which
// selects the handler the message is dispatched to. The empty string is
// returned for a message with no entries.
func (c *DataMessage) PrimaryProtocol() string {
	if len(c.ProtocolData) == 0 {
		return ""
	}
	return c.ProtocolData[0].Name
}
