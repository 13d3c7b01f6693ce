package btpwire

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// ContentType denotes how the bytes of a sub-protocol entry are to be
// interpreted by the receiver.
type ContentType uint8

const (
	// ContentTypeOctetStream is raw, uninterpreted bytes.
	ContentTypeOctetStream ContentType = 0

	// ContentTypeTextPlain is a UTF-8 string.
	ContentTypeTextPlain ContentType = 1

	// ContentTypeJSON is a UTF-8 encoded JSON document.
	ContentTypeJSON ContentType = 2
)

// String returns the MIME name of the content type.
func (c ContentType) String() string {
	switch c {
	case ContentTypeOctetStream:
		return "application/octet-stream"
	case ContentTypeTextPlain:
		return "text/plain-utf8"
	case ContentTypeJSON:
		return "application/json"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(c))
	}
}

// ProtocolData is one named sub-protocol entry of a BTP message. Every BTP
// message carries zero or more of these after its typed payload; the first
// entry names the primary protocol the message is about.
type ProtocolData struct {
	// Name identifies the sub-protocol, e.g. "ilp", "auth" or "info".
	Name string

	// ContentType tells the receiver how to decode Data.
	ContentType ContentType

	// Data is the raw payload of the entry.
	Data []byte
}

// TransferID is the 16 byte id of a conditional transfer, the raw bytes of a
// UUID.
type TransferID [16]byte

// writeElement is a one-stop shop to write the big endian representation of
// any element which is to be serialized for the wire.
func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		var b [1]byte
		b[0] = e
		if _, err := w.Write(b[:]); err != nil {
			return err
		}

	case uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}

	case uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}

	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}

	case TransferID:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}

	case [32]byte:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}

	case [3]byte:
		if _, err := w.Write(e[:]); err != nil {
			return err
		}

	case string:
		// Short strings carry a single length byte.
		if len(e) > 255 {
			return fmt.Errorf("string too long to encode: %d bytes",
				len(e))
		}
		var b [1]byte
		b[0] = uint8(len(e))
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
		if _, err := w.Write([]byte(e)); err != nil {
			return err
		}

	case []byte:
		// Variable length opaque data carries a two byte length.
		if len(e) > 65535 {
			return fmt.Errorf("opaque data too long to encode: %d "+
				"bytes", len(e))
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(len(e)))
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
		if _, err := w.Write(e); err != nil {
			return err
		}

	case time.Time:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(e.UnixMilli()))
		if _, err := w.Write(b[:]); err != nil {
			return err
		}

	case []ProtocolData:
		if len(e) > 255 {
			return fmt.Errorf("too many protocol data entries: %d",
				len(e))
		}
		var b [1]byte
		b[0] = uint8(len(e))
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
		for _, entry := range e {
			if err := writeElements(w, entry.Name,
				uint8(entry.ContentType)); err != nil {
				return err
			}

			if len(entry.Data) > maxProtocolDataLen {
				return fmt.Errorf("protocol data entry %q too "+
					"long: %d bytes", entry.Name,
					len(entry.Data))
			}
			var l [4]byte
			binary.BigEndian.PutUint32(l[:], uint32(len(entry.Data)))
			if _, err := w.Write(l[:]); err != nil {
				return err
			}
			if _, err := w.Write(entry.Data); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unknown type in writeElement: %T", e)
	}

	return nil
}

// writeElements is writes each element in the elements slice to the passed
// io.Writer using writeElement.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		err := writeElement(w, element)
		if err != nil {
			return err
		}
	}
	return nil
}

// readElement is a one-stop utility function to deserialize any datastructure
// encoded using the serialization format of the BTP wire protocol.
func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0]

	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint16(b[:])

	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint32(b[:])

	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint64(b[:])

	case *TransferID:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}

	case *[32]byte:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}

	case *[3]byte:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}

	case *string:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return err
		}
		b := make([]byte, l[0])
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = string(b)

	case *[]byte:
		var l [2]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return err
		}
		b := make([]byte, binary.BigEndian.Uint16(l[:]))
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
		*e = b

	case *time.Time:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = time.UnixMilli(int64(binary.BigEndian.Uint64(b[:]))).UTC()

	case *[]ProtocolData:
		var count [1]byte
		if _, err := io.ReadFull(r, count[:]); err != nil {
			return err
		}
		var entries []ProtocolData
		for i := uint8(0); i < count[0]; i++ {
			var (
				entry ProtocolData
				ct    uint8
			)
			if err := readElements(r, &entry.Name, &ct); err != nil {
				return err
			}
			entry.ContentType = ContentType(ct)

			var l [4]byte
			if _, err := io.ReadFull(r, l[:]); err != nil {
				return err
			}
			dataLen := binary.BigEndian.Uint32(l[:])
			if dataLen > maxProtocolDataLen {
				return fmt.Errorf("protocol data entry %q too "+
					"long: %d bytes", entry.Name, dataLen)
			}
			entry.Data = make([]byte, dataLen)
			if _, err := io.ReadFull(r, entry.Data); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		*e = entries

	default:
		return fmt.Errorf("unknown type in readElement: %T", e)
	}

	return nil
}

// readElements deserializes a variable number of elements into the passed
// io.Reader, with each element being deserialized according to the
// readElement function.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		err := readElement(r, element)
		if err != nil {
			return err
		}
	}
	return nil
}
