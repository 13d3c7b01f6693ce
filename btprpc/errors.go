package btprpc

import "github.com/go-errors/errors"

var (
	// ErrEngineShutdown is returned for calls in flight when the engine
	// is torn down, and for calls attempted afterwards.
	ErrEngineShutdown = errors.New("rpc engine shutting down")

	// ErrRequestTimeout is returned when no response arrived for a
	// request before its deadline.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrNoAuthenticatedSockets is returned when a request cannot be
	// sent because no socket has completed the auth handshake.
	ErrNoAuthenticatedSockets = errors.New("no authenticated sockets")

	// ErrAuthFailed is returned when the peer refused our auth
	// credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSocketClosed is returned for writes against a closed socket.
	ErrSocketClosed = errors.New("socket is closed")
)
