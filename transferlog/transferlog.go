package transferlog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/davecgh/go-spew/spew"
)

// Log is the authoritative ledger of transfer lifecycle and balances
// maintained between the two peers. In production a store-backed
// implementation is preferred so that the fulfilled balances survive across
// restarts. Transfers transition through the prepared, fulfilled and
// cancelled states, and the Log interface provides access to driving the
// state transitions.
type Log interface {
	// Prepare escrows a new transfer in the given direction. Re-preparing
	// an identical transfer succeeds without effect, while reusing an id
	// with different contents fails with ErrDuplicateID. The prepare is
	// refused if it would push the directional balance past its bound.
	Prepare(transfer *Transfer, isIncoming bool) error

	// Fulfill transitions a prepared transfer into the fulfilled terminal
	// state, recording the preimage and crediting the fulfilled balance
	// of the transfer's direction.
	Fulfill(id string, fulfillment [32]byte) error

	// Cancel transitions a prepared transfer into the cancelled terminal
	// state, releasing the escrowed amount.
	Cancel(id string) error

	// Get returns the record of a transfer by id.
	Get(id string) (*Record, error)

	// Balance is the visible net balance: incoming fulfilled minus
	// outgoing fulfilled.
	Balance() int64

	// Maximum is the bound the incoming prepared-and-fulfilled balance
	// may not exceed.
	Maximum() int64

	// Minimum is the bound the outgoing balance may not drop below.
	Minimum() int64

	// IncomingFulfilled returns the sum of all fulfilled incoming
	// transfers.
	IncomingFulfilled() int64

	// OutgoingFulfilled returns the sum of all fulfilled outgoing
	// transfers.
	OutgoingFulfilled() int64

	// IncomingFulfilledAndPrepared returns the incoming sum including
	// still-escrowed prepared transfers.
	IncomingFulfilledAndPrepared() int64

	// OutgoingFulfilledAndPrepared returns the outgoing sum including
	// still-escrowed prepared transfers.
	OutgoingFulfilledAndPrepared() int64

	// Close releases the log's resources and stops the store writer.
	Close() error
}

// Config packages the parameters of a transfer log.
type Config struct {
	// Maximum is the incoming balance bound, net of the outgoing fulfilled
	// total. Zero refuses incoming transfers beyond what the outgoing
	// direction has already fulfilled, so callers normally set this.
	Maximum int64

	// Minimum is the outgoing balance bound, normally negative or zero.
	Minimum int64

	// Store optionally persists balances and records. If nil the log is
	// purely in-memory.
	Store Store

	// KeyPrefix scopes every store key to this plugin instance.
	KeyPrefix string
}

// memoryLog is the store-backed implementation of Log. All state is held and
// mutated in memory under a single mutex; the store is a write-behind copy
// whose writes are serialized through a queue, and the source of the
// fulfilled balances on startup.
type memoryLog struct {
	mx sync.Mutex

	cfg Config

	maximum int64
	minimum int64

	// The four balance counters. The fulfilled pair only ever grows, the
	// prepared-and-fulfilled pair also shrinks when escrows are
	// cancelled.
	incomingFulfilled            int64
	outgoingFulfilled            int64
	incomingFulfilledAndPrepared int64
	outgoingFulfilledAndPrepared int64

	transfers map[string]*Record

	writes *writeQueue
}

// A compile time check to ensure memoryLog implements the Log interface.
var _ Log = (*memoryLog)(nil)

// New creates a transfer log. When a store is configured, the balance bounds
// and fulfilled counters are rehydrated from it before the log is returned,
// and a write queue is started for the lifetime of the log.
func New(cfg Config) (Log, error) {
	l := &memoryLog{
		cfg:       cfg,
		maximum:   cfg.Maximum,
		minimum:   cfg.Minimum,
		transfers: make(map[string]*Record),
	}

	if cfg.Store == nil {
		return l, nil
	}

	// Rehydrate the durable counters. Values present in the store win
	// over the configured ones: a restarted plugin continues where it
	// left off.
	for _, item := range []struct {
		key    string
		target *int64
	}{
		{keyMaximum, &l.maximum},
		{keyMinimum, &l.minimum},
		{keyIncomingFulfilled, &l.incomingFulfilled},
		{keyOutgoingFulfilled, &l.outgoingFulfilled},
	} {
		raw, err := cfg.Store.Get(l.storeKey(item.key))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		value, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt value for key %v: %v",
				item.key, err)
		}
		*item.target = value
	}

	// Prepared amounts are intentionally not durable: an escrow that was
	// in flight across a restart is reclaimed by expiry on both sides.
	l.incomingFulfilledAndPrepared = l.incomingFulfilled
	l.outgoingFulfilledAndPrepared = l.outgoingFulfilled

	l.writes = newWriteQueue(cfg.Store)

	// Make sure the bounds themselves are durable too.
	if err := l.writes.put(l.storeKey(keyMaximum),
		[]byte(strconv.FormatInt(l.maximum, 10))); err != nil {

		l.writes.stop()
		return nil, err
	}
	if err := l.writes.put(l.storeKey(keyMinimum),
		[]byte(strconv.FormatInt(l.minimum, 10))); err != nil {

		l.writes.stop()
		return nil, err
	}

	return l, nil
}

// storeKey scopes a log key to this plugin instance.
func (l *memoryLog) storeKey(key string) string {
	return l.cfg.KeyPrefix + key
}

// fetchRecord returns the record for id, faulting it in from the store on a
// cache miss.
//
// NOTE: must be called with the log mutex held.
func (l *memoryLog) fetchRecord(id string) (*Record, error) {
	if record, ok := l.transfers[id]; ok {
		return record, nil
	}

	if l.cfg.Store == nil {
		return nil, ErrTransferNotFound
	}

	raw, err := l.cfg.Store.Get(l.storeKey(keyTransferPrefix + id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrTransferNotFound
	}

	record := &Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("corrupt record for transfer %v: %v",
			id, err)
	}

	l.transfers[id] = record
	return record, nil
}

// persistRecord queues a durable write of the record, and of the fulfilled
// counter when one moved. No-op without a store.
//
// NOTE: must be called without the log mutex held, the write queue blocks.
func (l *memoryLog) persistRecord(record *Record, counterKey string,
	counter int64) error {

	if l.writes == nil {
		return nil
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	err = l.writes.put(l.storeKey(keyTransferPrefix+record.Transfer.ID),
		raw)
	if err != nil {
		return err
	}

	if counterKey == "" {
		return nil
	}
	return l.writes.put(l.storeKey(counterKey),
		[]byte(strconv.FormatInt(counter, 10)))
}

// Prepare escrows a new transfer in the given direction.
//
// This is part of the Log interface.
func (l *memoryLog) Prepare(transfer *Transfer, isIncoming bool) error {
	if transfer.Amount > math.MaxInt64 {
		return fmt.Errorf("transfer amount %d out of range",
			transfer.Amount)
	}
	amount := int64(transfer.Amount)

	l.mx.Lock()

	existing, err := l.fetchRecord(transfer.ID)
	switch {
	// A re-prepare of identical contents is idempotent.
	case err == nil && existing.Transfer.Equal(transfer):
		l.mx.Unlock()
		return nil

	case err == nil:
		l.mx.Unlock()
		log.Warnf("rejecting duplicate transfer id %v: %v",
			transfer.ID, spew.Sdump(transfer))
		return ErrDuplicateID

	case err != ErrTransferNotFound:
		l.mx.Unlock()
		return err
	}

	// Enforce the directional balance bound on the escrowed total, net
	// of what the opposite direction has already fulfilled.
	if isIncoming {
		next := l.incomingFulfilledAndPrepared + amount
		if next-l.outgoingFulfilled > l.maximum {
			l.mx.Unlock()
			return ErrMaximumExceeded
		}
		l.incomingFulfilledAndPrepared = next
	} else {
		next := l.outgoingFulfilledAndPrepared + amount
		if next-l.incomingFulfilled > -l.minimum {
			l.mx.Unlock()
			return ErrMinimumExceeded
		}
		l.outgoingFulfilledAndPrepared = next
	}

	record := &Record{
		Transfer:   transfer,
		IsIncoming: isIncoming,
		State:      StatePrepared,
	}
	l.transfers[transfer.ID] = record
	snapshot := *record
	l.mx.Unlock()

	log.Debugf("prepared %v transfer %v for %d",
		directionString(isIncoming), transfer.ID, transfer.Amount)

	return l.persistRecord(&snapshot, "", 0)
}

// Fulfill transitions a prepared transfer into the fulfilled terminal state.
//
// This is part of the Log interface.
func (l *memoryLog) Fulfill(id string, fulfillment [32]byte) error {
	l.mx.Lock()

	record, err := l.fetchRecord(id)
	if err != nil {
		l.mx.Unlock()
		return err
	}

	switch record.State {
	case StateFulfilled:
		l.mx.Unlock()
		return ErrAlreadyFulfilled

	case StateCancelled:
		l.mx.Unlock()
		return ErrAlreadyRolledBack
	}

	record.State = StateFulfilled
	record.Fulfillment = fulfillment

	amount := int64(record.Transfer.Amount)
	var counterKey string
	var counter int64
	if record.IsIncoming {
		l.incomingFulfilled += amount
		counterKey, counter = keyIncomingFulfilled, l.incomingFulfilled
	} else {
		l.outgoingFulfilled += amount
		counterKey, counter = keyOutgoingFulfilled, l.outgoingFulfilled
	}
	snapshot := *record
	l.mx.Unlock()

	log.Debugf("fulfilled %v transfer %v",
		directionString(record.IsIncoming), id)

	return l.persistRecord(&snapshot, counterKey, counter)
}

// Cancel transitions a prepared transfer into the cancelled terminal state.
//
// This is part of the Log interface.
func (l *memoryLog) Cancel(id string) error {
	l.mx.Lock()

	record, err := l.fetchRecord(id)
	if err != nil {
		l.mx.Unlock()
		return err
	}

	switch record.State {
	case StateFulfilled:
		l.mx.Unlock()
		return ErrAlreadyFulfilled

	case StateCancelled:
		l.mx.Unlock()
		return ErrAlreadyRolledBack
	}

	record.State = StateCancelled

	// Release the escrow.
	amount := int64(record.Transfer.Amount)
	if record.IsIncoming {
		l.incomingFulfilledAndPrepared -= amount
	} else {
		l.outgoingFulfilledAndPrepared -= amount
	}
	snapshot := *record
	l.mx.Unlock()

	log.Debugf("cancelled %v transfer %v",
		directionString(record.IsIncoming), id)

	return l.persistRecord(&snapshot, "", 0)
}

// Get returns the record of a transfer by id.
//
// This is part of the Log interface.
func (l *memoryLog) Get(id string) (*Record, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.fetchRecord(id)
}

// Balance is the visible net balance.
//
// This is part of the Log interface.
func (l *memoryLog) Balance() int64 {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.incomingFulfilled - l.outgoingFulfilled
}

// Maximum is the incoming balance bound.
//
// This is part of the Log interface.
func (l *memoryLog) Maximum() int64 {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.maximum
}

// Minimum is the outgoing balance bound.
//
// This is part of the Log interface.
func (l *memoryLog) Minimum() int64 {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.minimum
}

// IncomingFulfilled returns the sum of all fulfilled incoming transfers.
//
// This is part of the Log interface.
func (l *memoryLog) IncomingFulfilled() int64 {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.incomingFulfilled
}

// OutgoingFulfilled returns the sum of all fulfilled outgoing transfers.
//
// This is part of the Log interface.
func (l *memoryLog) OutgoingFulfilled() int64 {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.outgoingFulfilled
}

// IncomingFulfilledAndPrepared returns the incoming escrowed total.
//
// This is part of the Log interface.
func (l *memoryLog) IncomingFulfilledAndPrepared() int64 {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.incomingFulfilledAndPrepared
}

// OutgoingFulfilledAndPrepared returns the outgoing escrowed total.
//
// This is part of the Log interface.
func (l *memoryLog) OutgoingFulfilledAndPrepared() int64 {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.outgoingFulfilledAndPrepared
}

// Close stops the store writer.
//
// This is part of the Log interface.
func (l *memoryLog) Close() error {
	if l.writes != nil {
		l.writes.stop()
	}
	return nil
}

// directionString renders a direction flag for log output.
func directionString(isIncoming bool) string {
	if isIncoming {
		return "incoming"
	}
	return "outgoing"
}
