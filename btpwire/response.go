package btpwire

import "io"

// Response acknowledges a previously received request, correlated by the
// request id in the message header. Any result data travels in the
// sub-protocol entries.
type Response struct {
	// ProtocolData carries the result of the request, if any.
	ProtocolData []ProtocolData
}

// NewResponse returns a new Response message.
func NewResponse(protocolData []ProtocolData) *Response {
	return &Response{ProtocolData: protocolData}
}

// A compile time check to ensure Response implements the btpwire.Message
// interface.
var _ Message = (*Response)(nil)

// Decode deserializes a serialized Response message stored in the passed
// io.Reader.
//
// This is part of the btpwire.Message interface.
func (c *Response) Decode(r io.Reader) error {
	return readElements(r, &c.ProtocolData)
}

// Encode serializes the target Response into the passed io.Writer.
//
// This is part of the btpwire.Message interface.
func (c *Response) Encode(w io.Writer) error {
	return writeElements(w, c.ProtocolData)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the btpwire.Message interface.
func (c *Response) MsgType() MessageType {
	return MsgResponse
}

// MaxPayloadLength returns the maximum allowed payload size for a Response
// complete message.
//
// This is part of the btpwire.Message interface.
func (c *Response) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

// SubProtocols returns the sub-protocol entries of the message.
//
// This is part of the btpwire.Message interface.
func (c *Response) SubProtocols() []ProtocolData {
	return c.ProtocolData
}
