package btprpc

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Socket is the narrow duplex the engine speaks BTP over: whole binary
// frames in, whole binary frames out. The concrete transport is expected to
// be a WebSocket but anything frame-oriented will do, which is what the
// tests exploit.
type Socket interface {
	// ReadFrame blocks until the next complete binary frame arrives.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one complete binary frame. Implementations must
	// serialize concurrent writers.
	WriteFrame(frame []byte) error

	// Close tears the connection down. Pending reads and writes fail
	// afterwards.
	Close() error
}

// wsSocket adapts a gorilla websocket connection to the Socket interface.
type wsSocket struct {
	conn *websocket.Conn

	// writeMx serializes writers, the underlying connection supports
	// only one at a time.
	writeMx sync.Mutex

	closeOnce sync.Once
}

// NewWebSocket wraps an established websocket connection.
func NewWebSocket(conn *websocket.Conn) Socket {
	return &wsSocket{conn: conn}
}

// ReadFrame blocks until the next binary frame arrives. Non-binary frames
// are skipped.
//
// This is part of the Socket interface.
func (s *wsSocket) ReadFrame() ([]byte, error) {
	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			log.Debugf("skipping non-binary websocket frame of "+
				"type %d", msgType)
			continue
		}
		return frame, nil
	}
}

// WriteFrame sends one binary frame.
//
// This is part of the Socket interface.
func (s *wsSocket) WriteFrame(frame []byte) error {
	s.writeMx.Lock()
	defer s.writeMx.Unlock()

	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close tears the connection down.
//
// This is part of the Socket interface.
func (s *wsSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Dial connects a websocket to the given ws:// or wss:// URL and wraps it as
// a Socket. The optional tls config applies to wss endpoints.
func Dial(wsURL string, tlsConfig *tls.Config) (Socket, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported websocket scheme %v",
			parsed.Scheme)
	}

	// Credentials travel in the BTP auth handshake, never in the URL we
	// dial.
	parsed.User = nil

	dialer := websocket.Dialer{
		TLSClientConfig: tlsConfig,
	}
	conn, _, err := dialer.Dial(parsed.String(), nil)
	if err != nil {
		return nil, err
	}

	return NewWebSocket(conn), nil
}
