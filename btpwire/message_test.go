package btpwire

import (
	"bytes"
	"reflect"
	"testing"
	"time"
)

var (
	testTransferID = TransferID{
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88,
		0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00,
	}

	testCondition = [32]byte{
		0xb7, 0x94, 0x38, 0x5f, 0x2d, 0x1e, 0xf7, 0xab,
		0x4d, 0x92, 0x73, 0xd1, 0x90, 0x63, 0x81, 0xb4,
		0x4f, 0x2f, 0x6f, 0x25, 0x88, 0xa3, 0xef, 0xb9,
		0x6a, 0x49, 0x18, 0x83, 0x31, 0x98, 0x47, 0x53,
	}

	testFulfillment = [32]byte{
		0x80, 0x72, 0x76, 0x41, 0xe2, 0x19, 0xa6, 0xcb,
		0x57, 0x68, 0x66, 0x55, 0x09, 0x2a, 0xb8, 0x77,
		0x7b, 0xe4, 0xac, 0xc4, 0x82, 0x84, 0xd6, 0x0a,
		0xad, 0xe7, 0x9f, 0xca, 0xcd, 0xca, 0x32, 0xd2,
	}

	testExpiry = time.Date(2017, 8, 21, 15, 4, 5, 0, time.UTC)

	testProtocolData = []ProtocolData{
		{
			Name:        "ilp",
			ContentType: ContentTypeOctetStream,
			Data:        []byte{0x01, 0x02, 0x03},
		},
		{
			Name:        "note",
			ContentType: ContentTypeTextPlain,
			Data:        []byte("for services rendered"),
		},
		{
			Name:        "meta",
			ContentType: ContentTypeJSON,
			Data:        []byte(`{"hop":1}`),
		},
	}
)

// TestMessageRoundTrip asserts that every message type survives an
// encode/decode cycle through the envelope functions unchanged, and that the
// request id is carried intact.
func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		NewResponse(testProtocolData),
		NewError(CodeNotAcceptedError, NameNotAcceptedError,
			testExpiry, []byte(`{"message":"no"}`)),
		NewPrepare(testTransferID, 1000, testCondition, testExpiry,
			testProtocolData),
		NewFulfill(testTransferID, testFulfillment, nil),
		NewReject(testTransferID, testProtocolData[:1]),
		NewDataMessage(testProtocolData),
	}

	for _, msg := range msgs {
		var b bytes.Buffer
		if _, err := WriteMessage(&b, msg, 0xdeadbeef); err != nil {
			t.Fatalf("unable to write %v message: %v",
				msg.MsgType(), err)
		}
		raw := b.Bytes()

		decoded, requestID, err := ReadMessage(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("unable to read %v message: %v",
				msg.MsgType(), err)
		}
		if requestID != 0xdeadbeef {
			t.Fatalf("request id mangled: got %x", requestID)
		}
		if decoded.MsgType() != msg.MsgType() {
			t.Fatalf("type mangled: got %v, want %v",
				decoded.MsgType(), msg.MsgType())
		}
		if !reflect.DeepEqual(decoded.SubProtocols(),
			msg.SubProtocols()) {

			t.Fatalf("protocol data mismatch for %v",
				msg.MsgType())
		}

		// A second encode of the decoded message must reproduce the
		// original frame bit for bit.
		var b2 bytes.Buffer
		if _, err := WriteMessage(&b2, decoded, 0xdeadbeef); err != nil {
			t.Fatalf("unable to re-encode %v message: %v",
				msg.MsgType(), err)
		}
		if !bytes.Equal(raw, b2.Bytes()) {
			t.Fatalf("re-encoded frame differs for %v",
				msg.MsgType())
		}
	}
}

// TestPrepareWireEncoding pins down the exact byte layout of a Prepare
// message so the format cannot drift silently.
func TestPrepareWireEncoding(t *testing.T) {
	t.Parallel()

	prepare := NewPrepare(testTransferID, 5, testCondition, testExpiry, nil)

	var b bytes.Buffer
	if _, err := WriteMessage(&b, prepare, 1); err != nil {
		t.Fatalf("unable to write message: %v", err)
	}
	raw := b.Bytes()

	// Header: type byte then request id.
	if raw[0] != byte(MsgPrepare) {
		t.Fatalf("wrong type byte: %d", raw[0])
	}
	if !bytes.Equal(raw[1:5], []byte{0x00, 0x00, 0x00, 0x01}) {
		t.Fatalf("wrong request id bytes: %x", raw[1:5])
	}

	// Typed payload: 16 byte id, 8 byte amount, 32 byte condition,
	// 8 byte expiry, 1 byte protocol data count.
	if !bytes.Equal(raw[5:21], testTransferID[:]) {
		t.Fatalf("wrong transfer id bytes: %x", raw[5:21])
	}
	if !bytes.Equal(raw[21:29],
		[]byte{0, 0, 0, 0, 0, 0, 0, 0x05}) {

		t.Fatalf("wrong amount bytes: %x", raw[21:29])
	}
	if !bytes.Equal(raw[29:61], testCondition[:]) {
		t.Fatalf("wrong condition bytes: %x", raw[29:61])
	}
	if raw[len(raw)-1] != 0 {
		t.Fatalf("expected empty protocol data, got count %d",
			raw[len(raw)-1])
	}
	if len(raw) != 5+16+8+32+8+1 {
		t.Fatalf("unexpected total length %d", len(raw))
	}
}

// TestEmptyMessageUnknownType asserts a message of unknown type cannot be
// materialized.
func TestEmptyMessageUnknownType(t *testing.T) {
	t.Parallel()

	switchedMsgType := MessageType(99)
	_, err := makeEmptyMessage(switchedMsgType)
	if err == nil {
		t.Fatalf("expected error for unknown message type")
	}
}

// TestReadMessageTruncated asserts that truncated frames surface a decode
// error instead of a partial message.
func TestReadMessageTruncated(t *testing.T) {
	t.Parallel()

	prepare := NewPrepare(testTransferID, 5, testCondition, testExpiry,
		testProtocolData)

	var b bytes.Buffer
	if _, err := WriteMessage(&b, prepare, 7); err != nil {
		t.Fatalf("unable to write message: %v", err)
	}
	raw := b.Bytes()

	for _, cut := range []int{1, 4, 20, len(raw) - 1} {
		_, _, err := ReadMessage(bytes.NewReader(raw[:cut]))
		if err == nil {
			t.Fatalf("expected error for frame cut at %d", cut)
		}
	}
}

// TestErrorCodeMapping asserts the symbolic name to wire code table.
func TestErrorCodeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code ErrorCode
	}{
		{NameUnreachableError, CodeUnreachableError},
		{NameNotAcceptedError, CodeNotAcceptedError},
		{NameInvalidFieldsError, CodeInvalidFieldsError},
		{NameTransferNotFoundError, CodeTransferNotFoundError},
		{NameInvalidFulfillmentError, CodeInvalidFulfillmentError},
		{NameDuplicateIdError, CodeDuplicateIdError},
		{NameAlreadyRolledBackError, CodeAlreadyRolledBackError},
		{NameAlreadyFulfilledError, CodeAlreadyFulfilledError},
		{NameInsufficientBalanceError, CodeInsufficientBalanceError},
		{"SomethingElseEntirely", CodeNotAcceptedError},
	}

	for _, test := range tests {
		if code := CodeForName(test.name); code != test.code {
			t.Fatalf("name %v mapped to %v, want %v", test.name,
				code, test.code)
		}
	}
}
