package btpwire

// code derived from https://github.com/btcsuite/btcd/blob/master/wire/message.go

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = 1 << 20 // 1MB

// maxProtocolDataLen is the largest single sub-protocol entry we will encode
// or accept.
const maxProtocolDataLen = MaxMessagePayload - 16

// MessageType is the unique 1 byte big-endian integer that indicates the type
// of message on the wire. All messages have a very simple header consisting
// of the type byte followed by the 4 byte request id that correlates requests
// with their responses. We omit a length field and checksum as BTP is
// intended to be carried within single WebSocket binary frames.
type MessageType uint8

// The currently defined message types within this version of the Bilateral
// Transfer Protocol.
const (
	MsgResponse MessageType = 1
	MsgError    MessageType = 2
	MsgPrepare  MessageType = 3
	MsgFulfill  MessageType = 4
	MsgReject   MessageType = 5
	MsgMessage  MessageType = 6
)

// String returns the protocol name of the message type.
func (t MessageType) String() string {
	switch t {
	case MsgResponse:
		return "RESPONSE"
	case MsgError:
		return "ERROR"
	case MsgPrepare:
		return "PREPARE"
	case MsgFulfill:
		return "FULFILL"
	case MsgReject:
		return "REJECT"
	case MsgMessage:
		return "MESSAGE"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(t))
	}
}

// UnknownMessage is an implementation of the error interface that allows the
// creation of an error in response to an unknown message.
type UnknownMessage struct {
	messageType MessageType
}

// Error returns a human readable string describing the error.
//
// This is part of the error interface.
func (u *UnknownMessage) Error() string {
	return fmt.Sprintf("unable to parse message of unknown type: %v",
		u.messageType)
}

// Message is an interface that defines a BTP wire protocol message. The
// interface is general in order to allow implementing types full control over
// the representation of its data.
type Message interface {
	Decode(io.Reader) error
	Encode(io.Writer) error
	MsgType() MessageType
	MaxPayloadLength() uint32

	// SubProtocols exposes the protocol data entries every BTP message
	// carries after its typed payload.
	SubProtocols() []ProtocolData
}

// makeEmptyMessage creates a new empty message of the proper concrete type
// based on the passed message type.
func makeEmptyMessage(msgType MessageType) (Message, error) {
	var msg Message

	switch msgType {
	case MsgResponse:
		msg = &Response{}
	case MsgError:
		msg = &Error{}
	case MsgPrepare:
		msg = &Prepare{}
	case MsgFulfill:
		msg = &Fulfill{}
	case MsgReject:
		msg = &Reject{}
	case MsgMessage:
		msg = &DataMessage{}
	default:
		return nil, &UnknownMessage{msgType}
	}

	return msg, nil
}

// WriteMessage writes a BTP Message to w including the type byte and the
// request id, and returns the number of bytes written.
func WriteMessage(w io.Writer, msg Message, requestID uint32) (int, error) {
	totalBytes := 0

	// Encode the message payload itself into a temporary buffer.
	var bw bytes.Buffer
	if err := msg.Encode(&bw); err != nil {
		return totalBytes, err
	}
	payload := bw.Bytes()
	lenp := len(payload)

	// Enforce maximum overall message payload.
	if lenp > MaxMessagePayload {
		return totalBytes, fmt.Errorf("message payload is too large - "+
			"encoded %d bytes, but maximum message payload is %d bytes",
			lenp, MaxMessagePayload)
	}

	// Enforce maximum message payload on the message type.
	mpl := msg.MaxPayloadLength()
	if uint32(lenp) > mpl {
		return totalBytes, fmt.Errorf("message payload is too large - "+
			"encoded %d bytes, but maximum message payload of "+
			"type %v is %d bytes", lenp, msg.MsgType(), mpl)
	}

	// With the initial sanity checks complete, we'll now write out the
	// message header: the type byte followed by the request id.
	var header [5]byte
	header[0] = uint8(msg.MsgType())
	binary.BigEndian.PutUint32(header[1:], requestID)
	n, err := w.Write(header[:])
	totalBytes += n
	if err != nil {
		return totalBytes, err
	}

	// With the header written, we'll now write out the raw payload itself.
	n, err = w.Write(payload)
	totalBytes += n

	return totalBytes, err
}

// ReadMessage reads, validates, and parses the next BTP message from r,
// returning the parsed message along with the request id it correlates to.
func ReadMessage(r io.Reader) (Message, uint32, error) {
	// First, we'll read out the header so we can create the proper empty
	// message and correlate it to an in-flight request.
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, err
	}

	msgType := MessageType(header[0])
	requestID := binary.BigEndian.Uint32(header[1:])

	// Now that we know the target message type, we can create the proper
	// empty message type and decode the message into it.
	msg, err := makeEmptyMessage(msgType)
	if err != nil {
		return nil, 0, err
	}
	if err := msg.Decode(r); err != nil {
		return nil, 0, err
	}

	return msg, requestID, nil
}
