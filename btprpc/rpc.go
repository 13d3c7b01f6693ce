package btprpc

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultAuthTimeout is how long an accepted socket has to complete
	// the auth handshake before it is closed.
	DefaultAuthTimeout = 2 * time.Second

	// DefaultRequestTimeout is how long an outgoing request waits for
	// its response before failing.
	DefaultRequestTimeout = 5 * time.Second
)

// Handler is the upward interface of the engine: once a socket is
// authenticated, incoming transfer and message frames are dispatched through
// it. A returned wire error crosses back to the peer verbatim; any other
// error is wrapped as a NotAcceptedError. Returned protocol data rides on
// the RESPONSE frame.
type Handler interface {
	// HandlePrepare processes an incoming conditional transfer.
	HandlePrepare(prepare *btpwire.Prepare) error

	// HandleFulfill processes the fulfillment of an outgoing transfer.
	HandleFulfill(fulfill *btpwire.Fulfill) ([]btpwire.ProtocolData, error)

	// HandleReject processes the rejection of an outgoing transfer.
	HandleReject(reject *btpwire.Reject) error

	// HandleMessage processes a free-form MESSAGE frame.
	HandleMessage(msg *btpwire.DataMessage) ([]btpwire.ProtocolData, error)
}

// Config defines the configuration for the rpc engine. The Handler MUST be
// non-nil for the engine to carry out its duties.
type Config struct {
	// Handler receives authenticated incoming frames.
	Handler Handler

	// AuthTimeout bounds the server side auth handshake. Defaults to
	// DefaultAuthTimeout.
	AuthTimeout time.Duration

	// RequestTimeout bounds outgoing requests. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Clock is the time source, swapped out in tests.
	Clock clock.Clock
}

// socketSlot tracks one socket added to the engine, tagged with the role we
// play on it. Slot ids increase monotonically and are never reused.
type socketSlot struct {
	id     int
	socket Socket
	role   Role

	// authed is set once the handshake completed, in either direction.
	// Only frames on authed slots reach the handler. Used atomically.
	authed int32

	// authDone is closed when the server side handshake completes, which
	// disarms the auth timer.
	authDone chan struct{}
}

func (s *socketSlot) isAuthed() bool {
	return atomic.LoadInt32(&s.authed) == 1
}

func (s *socketSlot) markAuthed() {
	atomic.StoreInt32(&s.authed, 1)
}

// Engine is the BTP RPC core: it owns the socket slots, runs the per-socket
// auth state machine, correlates outgoing requests with their responses and
// dispatches incoming frames to the handler. Outgoing packets are broadcast
// to every authenticated socket and the first response wins.
type Engine struct {
	shutdown int32

	cfg Config

	slotMx     sync.Mutex
	slots      map[int]*socketSlot
	nextSlotID int

	pending *pendingRequests

	wg   sync.WaitGroup
	quit chan struct{}
}

// New creates a new rpc engine.
func New(cfg Config) *Engine {
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Engine{
		cfg:     cfg,
		slots:   make(map[int]*socketSlot),
		pending: newPendingRequests(),
		quit:    make(chan struct{}),
	}
}

// AddSocket registers a socket with the engine and starts serving it. For a
// client role the engine opens the conversation by sending the auth message
// and blocks until the peer acknowledged it. For a server role the peer must
// authenticate within the auth timeout or the socket is closed. The returned
// slot id is stable for the socket's lifetime.
func (e *Engine) AddSocket(socket Socket, role Role) (int, error) {
	if atomic.LoadInt32(&e.shutdown) == 1 {
		return 0, ErrEngineShutdown
	}

	slot := &socketSlot{
		socket:   socket,
		role:     role,
		authDone: make(chan struct{}),
	}

	e.slotMx.Lock()
	e.nextSlotID++
	slot.id = e.nextSlotID
	e.slots[slot.id] = slot
	e.slotMx.Unlock()

	e.wg.Add(1)
	go e.readHandler(slot)

	switch r := role.(type) {
	case ClientRole:
		// We dialed this socket: we authenticate ourselves, and are
		// free to use the slot as soon as the peer acknowledges.
		slot.markAuthed()
		close(slot.authDone)

		_, err := e.callSocket(slot, newAuthMessage(r.Username,
			r.Token))
		if err != nil {
			log.Errorf("auth handshake on slot %v failed: %v",
				slot.id, err)
			e.removeSlot(slot)
			if _, ok := err.(*btpwire.Error); ok {
				return 0, ErrAuthFailed
			}
			return 0, err
		}
		log.Debugf("slot %v authenticated as client", slot.id)

	case ServerRole:
		// The peer dialed us: give it until the deadline to present
		// acceptable credentials.
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()

			select {
			case <-e.cfg.Clock.TickAfter(e.cfg.AuthTimeout):
				log.Warnf("slot %v did not authenticate in "+
					"time, closing", slot.id)
				e.writeError(slot, 0, newWireError(
					btpwire.NameNotAcceptedError,
					"authentication timed out",
					e.cfg.Clock.Now()))
				e.removeSlot(slot)

			case <-slot.authDone:
			case <-e.quit:
			}
		}()

	default:
		e.removeSlot(slot)
		return 0, fmt.Errorf("unknown socket role %T", role)
	}

	return slot.id, nil
}

// Call sends a request to the peer over every authenticated socket and waits
// for the first RESPONSE or ERROR correlated to it, or the request timeout.
func (e *Engine) Call(msg btpwire.Message) (*btpwire.Response, error) {
	if atomic.LoadInt32(&e.shutdown) == 1 {
		return nil, ErrEngineShutdown
	}

	requestID, resultChan, err := e.registerRequest()
	if err != nil {
		return nil, err
	}

	frame, err := encodeFrame(msg, requestID)
	if err != nil {
		e.pending.remove(requestID)
		return nil, err
	}

	if sent := e.broadcast(frame); sent == 0 {
		e.pending.remove(requestID)
		return nil, ErrNoAuthenticatedSockets
	}

	return e.awaitResult(requestID, resultChan)
}

// callSocket is Call restricted to a single slot, used for the client auth
// handshake before the slot joins the broadcast set.
func (e *Engine) callSocket(slot *socketSlot, msg btpwire.Message) (
	*btpwire.Response, error) {

	requestID, resultChan, err := e.registerRequest()
	if err != nil {
		return nil, err
	}

	frame, err := encodeFrame(msg, requestID)
	if err != nil {
		e.pending.remove(requestID)
		return nil, err
	}
	if err := slot.socket.WriteFrame(frame); err != nil {
		e.pending.remove(requestID)
		return nil, err
	}

	return e.awaitResult(requestID, resultChan)
}

// registerRequest draws fresh random request ids until one is claimed in the
// pending table.
func (e *Engine) registerRequest() (uint32, chan *callResult, error) {
	for {
		var scratch [4]byte
		if _, err := rand.Read(scratch[:]); err != nil {
			return 0, nil, err
		}
		requestID := binary.BigEndian.Uint32(scratch[:])

		resultChan, ok := e.pending.register(requestID)
		if ok {
			return requestID, resultChan, nil
		}
	}
}

// awaitResult blocks until the request resolves, times out or the engine
// shuts down. Exactly one of these wins; a response arriving after the
// timeout is discarded by the pending table.
func (e *Engine) awaitResult(requestID uint32,
	resultChan chan *callResult) (*btpwire.Response, error) {

	select {
	case result := <-resultChan:
		return result.response, result.err

	case <-e.cfg.Clock.TickAfter(e.cfg.RequestTimeout):
		e.pending.remove(requestID)
		return nil, ErrRequestTimeout

	case <-e.quit:
		return nil, ErrEngineShutdown
	}
}

// broadcast writes a frame to every authenticated slot and returns how many
// accepted it.
func (e *Engine) broadcast(frame []byte) int {
	e.slotMx.Lock()
	slots := make([]*socketSlot, 0, len(e.slots))
	for _, slot := range e.slots {
		slots = append(slots, slot)
	}
	e.slotMx.Unlock()

	sent := 0
	for _, slot := range slots {
		if !slot.isAuthed() {
			continue
		}
		if err := slot.socket.WriteFrame(frame); err != nil {
			log.Errorf("unable to write to slot %v: %v", slot.id,
				err)
			continue
		}
		sent++
	}
	return sent
}

// readHandler is the per-socket read pump. It drives the auth state machine
// for server slots, routes responses to the pending table and dispatches
// everything else to the handler.
func (e *Engine) readHandler(slot *socketSlot) {
	defer e.wg.Done()
	defer e.removeSlot(slot)

	for {
		frame, err := slot.socket.ReadFrame()
		if err != nil {
			log.Debugf("read on slot %v ended: %v", slot.id, err)
			return
		}

		msg, requestID, err := btpwire.ReadMessage(
			bytes.NewReader(frame))
		if err != nil {
			// A malformed envelope is fatal for the socket either
			// way; an unauthenticated peer also learns why.
			log.Errorf("malformed frame on slot %v: %v", slot.id,
				err)
			if !slot.isAuthed() {
				e.writeError(slot, 0, newWireError(
					btpwire.NameInvalidFieldsError,
					"malformed btp envelope",
					e.cfg.Clock.Now()))
			}
			return
		}

		log.Tracef("slot %v received %v (request %d)", slot.id,
			msg.MsgType(), requestID)

		if !slot.isAuthed() {
			if !e.handleAuthFrame(slot, msg, requestID) {
				return
			}
			continue
		}

		switch m := msg.(type) {
		case *btpwire.Response:
			if !e.pending.resolve(requestID,
				&callResult{response: m}) {

				log.Debugf("discarding unmatched response "+
					"for request %d", requestID)
			}

		case *btpwire.Error:
			if !e.pending.resolve(requestID, &callResult{err: m}) {
				log.Debugf("discarding unmatched error for "+
					"request %d", requestID)
			}

		default:
			e.dispatch(slot, msg, requestID)
		}
	}
}

// handleAuthFrame runs the server side of the handshake for the first frame
// on an unauthenticated slot. It reports whether the socket survives.
func (e *Engine) handleAuthFrame(slot *socketSlot, msg btpwire.Message,
	requestID uint32) bool {

	server, ok := slot.role.(ServerRole)
	if !ok {
		// A client slot is authed from birth, this cannot happen.
		log.Errorf("unauthenticated frame on client slot %v", slot.id)
		return false
	}

	username, token, err := parseAuthMessage(msg)
	if err != nil {
		log.Warnf("bad auth handshake on slot %v: %v", slot.id, err)
		e.writeError(slot, requestID, newWireError(
			btpwire.NameInvalidFieldsError, err.Error(),
			e.cfg.Clock.Now()))
		return false
	}

	if !server.AuthCheck(username, token) {
		log.Warnf("auth rejected for user %q on slot %v", username,
			slot.id)
		e.writeError(slot, requestID, newWireError(
			btpwire.NameNotAcceptedError,
			"invalid credentials", e.cfg.Clock.Now()))
		return false
	}

	slot.markAuthed()
	close(slot.authDone)
	e.writeResponse(slot, requestID, nil)

	log.Debugf("slot %v authenticated as user %q", slot.id, username)
	return true
}

// dispatch hands an authenticated frame to the handler and mirrors its
// outcome back to the peer under the same request id.
func (e *Engine) dispatch(slot *socketSlot, msg btpwire.Message,
	requestID uint32) {

	var (
		result []btpwire.ProtocolData
		err    error
	)
	switch m := msg.(type) {
	case *btpwire.Prepare:
		err = e.cfg.Handler.HandlePrepare(m)
	case *btpwire.Fulfill:
		result, err = e.cfg.Handler.HandleFulfill(m)
	case *btpwire.Reject:
		err = e.cfg.Handler.HandleReject(m)
	case *btpwire.DataMessage:
		result, err = e.cfg.Handler.HandleMessage(m)
	default:
		err = newWireError(btpwire.NameInvalidFieldsError,
			"unexpected message type", e.cfg.Clock.Now())
	}

	if err != nil {
		log.Errorf("handler failed for %v (request %d): %v",
			msg.MsgType(), requestID, err)
		e.writeError(slot, requestID, e.wireError(err))
		return
	}

	e.writeResponse(slot, requestID, result)
}

// wireError coerces a handler failure into the wire error that crosses back
// to the peer, mapping its symbolic name to the error code table.
func (e *Engine) wireError(err error) *btpwire.Error {
	wireErr, ok := err.(*btpwire.Error)
	if !ok {
		return newWireError(btpwire.NameNotAcceptedError, err.Error(),
			e.cfg.Clock.Now())
	}

	var zero btpwire.ErrorCode
	if wireErr.Code == zero {
		wireErr.Code = btpwire.CodeForName(wireErr.Name)
	}
	if wireErr.TriggeredAt.IsZero() {
		wireErr.TriggeredAt = e.cfg.Clock.Now()
	}
	return wireErr
}

// writeResponse sends an empty or data-carrying RESPONSE for request id.
func (e *Engine) writeResponse(slot *socketSlot, requestID uint32,
	result []btpwire.ProtocolData) {

	frame, err := encodeFrame(btpwire.NewResponse(result), requestID)
	if err != nil {
		log.Errorf("unable to encode response: %v", err)
		return
	}
	if err := slot.socket.WriteFrame(frame); err != nil {
		log.Errorf("unable to write response to slot %v: %v", slot.id,
			err)
	}
}

// writeError sends an ERROR frame for request id, best effort.
func (e *Engine) writeError(slot *socketSlot, requestID uint32,
	wireErr *btpwire.Error) {

	frame, err := encodeFrame(wireErr, requestID)
	if err != nil {
		log.Errorf("unable to encode error: %v", err)
		return
	}
	if err := slot.socket.WriteFrame(frame); err != nil {
		log.Errorf("unable to write error to slot %v: %v", slot.id,
			err)
	}
}

// removeSlot drops a slot from the registry and closes its socket. Safe to
// call more than once.
func (e *Engine) removeSlot(slot *socketSlot) {
	e.slotMx.Lock()
	_, ok := e.slots[slot.id]
	delete(e.slots, slot.id)
	e.slotMx.Unlock()

	if ok {
		slot.socket.Close()
		log.Debugf("removed slot %v", slot.id)
	}
}

// NumAuthenticatedSockets returns how many slots completed the handshake.
func (e *Engine) NumAuthenticatedSockets() int {
	e.slotMx.Lock()
	defer e.slotMx.Unlock()

	count := 0
	for _, slot := range e.slots {
		if slot.isAuthed() {
			count++
		}
	}
	return count
}

// Stop tears the engine down: all in-flight requests resolve with
// ErrEngineShutdown and every socket is closed.
func (e *Engine) Stop() error {
	if !atomic.CompareAndSwapInt32(&e.shutdown, 0, 1) {
		return nil
	}

	close(e.quit)
	e.pending.failAll(ErrEngineShutdown)

	e.slotMx.Lock()
	slots := make([]*socketSlot, 0, len(e.slots))
	for _, slot := range e.slots {
		slots = append(slots, slot)
	}
	e.slotMx.Unlock()
	for _, slot := range slots {
		e.removeSlot(slot)
	}

	e.wg.Wait()
	return nil
}

// encodeFrame serializes a message with its request id into a single frame.
func encodeFrame(msg btpwire.Message, requestID uint32) ([]byte, error) {
	var b bytes.Buffer
	if _, err := btpwire.WriteMessage(&b, msg, requestID); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// newWireError builds a wire error by symbolic name, with a JSON message
// payload the way peers expect it.
func newWireError(name, message string, triggeredAt time.Time) *btpwire.Error {
	data, _ := json.Marshal(map[string]string{"message": message})
	return btpwire.NewError(btpwire.CodeForName(name), name, triggeredAt,
		data)
}
