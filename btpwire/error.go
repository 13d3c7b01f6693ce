package btpwire

import (
	"fmt"
	"io"
	"time"
)

// Error is sent in place of a Response when the handling of a request fails.
// It doubles as a first-class error value within the daemon: the engine
// rejects the originating caller with the very value that crossed the wire.
type Error struct {
	// Code is the three character BTP error code, e.g. "F00".
	Code ErrorCode

	// Name is the symbolic name of the error, e.g. "NotAcceptedError".
	Name string

	// TriggeredAt is the instant the peer generated the error.
	TriggeredAt time.Time

	// Data is an opaque, typically JSON encoded, description of the
	// failure.
	Data []byte

	// ProtocolData carries any sub-protocol entries attached to the
	// error.
	ProtocolData []ProtocolData
}

// NewError returns a new Error message.
func NewError(code ErrorCode, name string, triggeredAt time.Time,
	data []byte) *Error {

	return &Error{
		Code:        code,
		Name:        name,
		TriggeredAt: triggeredAt,
		Data:        data,
	}
}

// A compile time check to ensure Error implements the btpwire.Message
// interface.
var _ Message = (*Error)(nil)

// A compile time check to ensure Error implements the error interface.
var _ error = (*Error)(nil)

// Decode deserializes a serialized Error message stored in the passed
// io.Reader.
//
// This is part of the btpwire.Message interface.
func (c *Error) Decode(r io.Reader) error {
	var code [3]byte
	if err := readElements(r,
		&code,
		&c.Name,
		&c.TriggeredAt,
		&c.Data,
		&c.ProtocolData,
	); err != nil {
		return err
	}
	c.Code = ErrorCode(code)
	return nil
}

// Encode serializes the target Error into the passed io.Writer.
//
// This is part of the btpwire.Message interface.
func (c *Error) Encode(w io.Writer) error {
	return writeElements(w,
		[3]byte(c.Code),
		c.Name,
		c.TriggeredAt,
		c.Data,
		c.ProtocolData,
	)
}

// MsgType returns the integer uniquely identifying this message type on the
// wire.
//
// This is part of the btpwire.Message interface.
func (c *Error) MsgType() MessageType {
	return MsgError
}

// MaxPayloadLength returns the maximum allowed payload size for an Error
// complete message.
//
// This is part of the btpwire.Message interface.
func (c *Error) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

// SubProtocols returns the sub-protocol entries of the message.
//
// This is part of the btpwire.Message interface.
func (c *Error) SubProtocols() []ProtocolData {
	return c.ProtocolData
}

// Error returns a human readable string describing the failure.
//
// This is part of the error interface.
func (c *Error) Error() string {
	return fmt.Sprintf("btp error %v %v: %s", c.Code, c.Name, c.Data)
}
