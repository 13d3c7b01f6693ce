package btpplugin

import (
	"sync"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
)

// EventType enumerates the transfer lifecycle notifications a plugin emits.
type EventType uint8

const (
	// EventIncomingPrepare fires when the peer escrowed a transfer
	// towards us.
	EventIncomingPrepare EventType = iota

	// EventIncomingFulfill fires when we fulfilled an incoming transfer.
	EventIncomingFulfill

	// EventIncomingReject fires when we rejected an incoming transfer.
	EventIncomingReject

	// EventIncomingCancel fires when an incoming transfer expired.
	EventIncomingCancel

	// EventOutgoingPrepare fires when we escrowed a transfer towards the
	// peer.
	EventOutgoingPrepare

	// EventOutgoingFulfill fires when the peer fulfilled one of our
	// transfers.
	EventOutgoingFulfill

	// EventOutgoingReject fires when the peer rejected one of our
	// transfers.
	EventOutgoingReject

	// EventOutgoingCancel fires when an outgoing transfer expired.
	EventOutgoingCancel
)

// String returns the event's conventional name.
func (e EventType) String() string {
	switch e {
	case EventIncomingPrepare:
		return "incoming_prepare"
	case EventIncomingFulfill:
		return "incoming_fulfill"
	case EventIncomingReject:
		return "incoming_reject"
	case EventIncomingCancel:
		return "incoming_cancel"
	case EventOutgoingPrepare:
		return "outgoing_prepare"
	case EventOutgoingFulfill:
		return "outgoing_fulfill"
	case EventOutgoingReject:
		return "outgoing_reject"
	case EventOutgoingCancel:
		return "outgoing_cancel"
	default:
		return "unknown"
	}
}

// TransferEvent is the payload delivered to observers.
type TransferEvent struct {
	// Transfer is the transfer the event is about.
	Transfer *transferlog.Transfer

	// Fulfillment carries the preimage on fulfill events.
	Fulfillment [32]byte

	// Reason carries the rejection reason on reject and cancel events,
	// when one is known.
	Reason *RejectionReason
}

// EventHandler observes one event type.
type EventHandler func(*TransferEvent)

// Subscription is the handle returned when registering an observer. Cancel
// detaches the observer; it is safe to call more than once.
type Subscription struct {
	events    *Events
	eventType EventType
	id        int
}

// Cancel detaches the observer.
func (s *Subscription) Cancel() {
	s.events.mx.Lock()
	defer s.events.mx.Unlock()

	delete(s.events.handlers[s.eventType], s.id)
}

// Events fans transfer lifecycle notifications out to per-event observers.
// Observer failures are contained: a panicking handler is logged and the
// remaining observers still run, so application code can never corrupt a
// balance update half way through.
type Events struct {
	mx       sync.Mutex
	nextID   int
	handlers map[EventType]map[int]EventHandler
}

// NewEvents creates an empty notifier.
func NewEvents() *Events {
	return &Events{
		handlers: make(map[EventType]map[int]EventHandler),
	}
}

// subscribe registers a handler for one event type.
func (e *Events) subscribe(eventType EventType,
	handler EventHandler) *Subscription {

	e.mx.Lock()
	defer e.mx.Unlock()

	if e.handlers[eventType] == nil {
		e.handlers[eventType] = make(map[int]EventHandler)
	}
	e.nextID++
	e.handlers[eventType][e.nextID] = handler

	return &Subscription{
		events:    e,
		eventType: eventType,
		id:        e.nextID,
	}
}

// SubscribeIncomingPrepare observes peers escrowing transfers towards us.
func (e *Events) SubscribeIncomingPrepare(h EventHandler) *Subscription {
	return e.subscribe(EventIncomingPrepare, h)
}

// SubscribeIncomingFulfill observes us fulfilling incoming transfers.
func (e *Events) SubscribeIncomingFulfill(h EventHandler) *Subscription {
	return e.subscribe(EventIncomingFulfill, h)
}

// SubscribeIncomingReject observes us rejecting incoming transfers.
func (e *Events) SubscribeIncomingReject(h EventHandler) *Subscription {
	return e.subscribe(EventIncomingReject, h)
}

// SubscribeIncomingCancel observes incoming transfers expiring.
func (e *Events) SubscribeIncomingCancel(h EventHandler) *Subscription {
	return e.subscribe(EventIncomingCancel, h)
}

// SubscribeOutgoingPrepare observes us escrowing transfers to the peer.
func (e *Events) SubscribeOutgoingPrepare(h EventHandler) *Subscription {
	return e.subscribe(EventOutgoingPrepare, h)
}

// SubscribeOutgoingFulfill observes the peer fulfilling our transfers.
func (e *Events) SubscribeOutgoingFulfill(h EventHandler) *Subscription {
	return e.subscribe(EventOutgoingFulfill, h)
}

// SubscribeOutgoingReject observes the peer rejecting our transfers.
func (e *Events) SubscribeOutgoingReject(h EventHandler) *Subscription {
	return e.subscribe(EventOutgoingReject, h)
}

// SubscribeOutgoingCancel observes outgoing transfers expiring.
func (e *Events) SubscribeOutgoingCancel(h EventHandler) *Subscription {
	return e.subscribe(EventOutgoingCancel, h)
}

// notify synchronously delivers an event to every observer of its type.
func (e *Events) notify(eventType EventType, event *TransferEvent) {
	e.mx.Lock()
	handlers := make([]EventHandler, 0, len(e.handlers[eventType]))
	for _, handler := range e.handlers[eventType] {
		handlers = append(handlers, handler)
	}
	e.mx.Unlock()

	log.Debugf("emitting %v for transfer %v", eventType,
		event.Transfer.ID)

	for _, handler := range handlers {
		e.deliver(eventType, handler, event)
	}
}

// deliver runs one observer, containing panics.
func (e *Events) deliver(eventType EventType, handler EventHandler,
	event *TransferEvent) {

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("observer for %v paniced: %v", eventType, r)
		}
	}()

	handler(event)
}
