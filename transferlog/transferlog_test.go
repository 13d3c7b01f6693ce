package transferlog

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockStore is an in-memory Store recording the order of writes.
type mockStore struct {
	mx     sync.Mutex
	values map[string][]byte
	order  []string

	failPut bool
}

func newMockStore() *mockStore {
	return &mockStore{values: make(map[string][]byte)}
}

func (s *mockStore) Get(key string) ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	value, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (s *mockStore) Put(key string, value []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.failPut {
		return fmt.Errorf("store is on fire")
	}
	s.values[key] = value
	s.order = append(s.order, key)
	return nil
}

func (s *mockStore) Del(key string) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	delete(s.values, key)
	s.order = append(s.order, "del:"+key)
	return nil
}

func testTransfer(id string, amount uint64) *Transfer {
	condition := sha256.Sum256([]byte(id))
	return &Transfer{
		ID:                 id,
		From:               "example.alice",
		To:                 "example.bob",
		Ledger:             "example.",
		Amount:             amount,
		ExecutionCondition: condition,
		ExpiresAt: time.Date(2017, 8, 21, 15, 4, 5, 0,
			time.UTC),
	}
}

func newTestLog(t *testing.T, store Store) Log {
	t.Helper()

	l, err := New(Config{
		Maximum:   10,
		Minimum:   -10,
		Store:     store,
		KeyPrefix: "test:",
	})
	if err != nil {
		t.Fatalf("unable to create log: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return l
}

// TestPrepareIdempotent asserts that re-preparing a byte-equal transfer
// succeeds without double counting, while a duplicate id with different
// contents is refused.
func TestPrepareIdempotent(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, nil)

	transfer := testTransfer("ca0dfdee-4393-4d22-a06c-bd2ca1b35b4e", 5)
	if err := l.Prepare(transfer, true); err != nil {
		t.Fatalf("unable to prepare transfer: %v", err)
	}
	if err := l.Prepare(transfer, true); err != nil {
		t.Fatalf("identical re-prepare should succeed: %v", err)
	}
	if balance := l.IncomingFulfilledAndPrepared(); balance != 5 {
		t.Fatalf("re-prepare double counted: %d", balance)
	}

	changed := testTransfer(transfer.ID, 6)
	if err := l.Prepare(changed, true); err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	// The original record stays prepared and untouched.
	record, err := l.Get(transfer.ID)
	if err != nil {
		t.Fatalf("unable to fetch record: %v", err)
	}
	if record.State != StatePrepared || record.Transfer.Amount != 5 {
		t.Fatalf("record was disturbed: %v amount %d", record.State,
			record.Transfer.Amount)
	}
}

// TestPrepareBounds asserts the directional balance bounds, net of the
// opposite direction's fulfilled total.
func TestPrepareBounds(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, nil)

	// An incoming transfer above the maximum must be refused without any
	// state change.
	big := testTransfer("0e1f5a05-b6a5-4e60-b1f9-a9e0e53d9dbc", 100)
	if err := l.Prepare(big, true); err != ErrMaximumExceeded {
		t.Fatalf("expected ErrMaximumExceeded, got %v", err)
	}
	if balance := l.IncomingFulfilledAndPrepared(); balance != 0 {
		t.Fatalf("refused prepare leaked balance: %d", balance)
	}
	if _, err := l.Get(big.ID); err != ErrTransferNotFound {
		t.Fatalf("refused prepare left a record: %v", err)
	}

	// Outgoing is bounded by the minimum in the same way.
	out := testTransfer("e9085f2b-6655-42a5-b787-cedd2ec5fa3f", 100)
	if err := l.Prepare(out, false); err != ErrMinimumExceeded {
		t.Fatalf("expected ErrMinimumExceeded, got %v", err)
	}

	// Filling the window exactly is allowed, one unit more is not.
	fill := testTransfer("cd4e9acc-9e75-44f5-9c82-2ec244fc2b86", 10)
	if err := l.Prepare(fill, true); err != nil {
		t.Fatalf("prepare at the bound should work: %v", err)
	}
	over := testTransfer("bfef8f64-3410-446f-a4f1-10dcdd4994b4", 1)
	if err := l.Prepare(over, true); err != ErrMaximumExceeded {
		t.Fatalf("expected ErrMaximumExceeded, got %v", err)
	}
}

// TestFulfillMovesBalances asserts the fulfilled counters move exactly on
// fulfill and stay monotonic, and that terminal states reject further
// transitions.
func TestFulfillMovesBalances(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, nil)

	in := testTransfer("de924135-2a20-4b2e-bb05-bab9ca978a54", 5)
	if err := l.Prepare(in, true); err != nil {
		t.Fatalf("unable to prepare transfer: %v", err)
	}

	if balance := l.Balance(); balance != 0 {
		t.Fatalf("prepare must not move the visible balance: %d",
			balance)
	}

	var fulfillment [32]byte
	copy(fulfillment[:], []byte("preimage"))
	if err := l.Fulfill(in.ID, fulfillment); err != nil {
		t.Fatalf("unable to fulfill transfer: %v", err)
	}

	if balance := l.Balance(); balance != 5 {
		t.Fatalf("wrong balance after fulfill: %d", balance)
	}
	if fulfilled := l.IncomingFulfilled(); fulfilled != 5 {
		t.Fatalf("wrong incoming fulfilled: %d", fulfilled)
	}

	record, err := l.Get(in.ID)
	if err != nil {
		t.Fatalf("unable to fetch record: %v", err)
	}
	if record.State != StateFulfilled ||
		record.Fulfillment != fulfillment {

		t.Fatalf("record not fulfilled: %v", record.State)
	}

	// Both terminal transitions must now be refused.
	if err := l.Fulfill(in.ID, fulfillment); err != ErrAlreadyFulfilled {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	if err := l.Cancel(in.ID); err != ErrAlreadyFulfilled {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
}

// TestCancelReleasesEscrow asserts cancel returns the escrowed amount to the
// window and refuses double cancels.
func TestCancelReleasesEscrow(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, nil)

	out := testTransfer("cbde52e0-0dfc-445f-a1b3-b557a52b2e8a", 7)
	if err := l.Prepare(out, false); err != nil {
		t.Fatalf("unable to prepare transfer: %v", err)
	}
	if escrowed := l.OutgoingFulfilledAndPrepared(); escrowed != 7 {
		t.Fatalf("wrong escrowed total: %d", escrowed)
	}

	if err := l.Cancel(out.ID); err != nil {
		t.Fatalf("unable to cancel transfer: %v", err)
	}
	if escrowed := l.OutgoingFulfilledAndPrepared(); escrowed != 0 {
		t.Fatalf("escrow not released: %d", escrowed)
	}
	if balance := l.Balance(); balance != 0 {
		t.Fatalf("cancel moved the visible balance: %d", balance)
	}

	if err := l.Cancel(out.ID); err != ErrAlreadyRolledBack {
		t.Fatalf("expected ErrAlreadyRolledBack, got %v", err)
	}

	var fulfillment [32]byte
	if err := l.Fulfill(out.ID, fulfillment); err != ErrAlreadyRolledBack {
		t.Fatalf("expected ErrAlreadyRolledBack, got %v", err)
	}
}

// TestUnknownTransfer asserts operations against unknown ids fail with
// ErrTransferNotFound.
func TestUnknownTransfer(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, nil)

	var fulfillment [32]byte
	id := "40b05c56-71c8-4a2e-a88c-1e709d01dd8e"
	if err := l.Fulfill(id, fulfillment); err != ErrTransferNotFound {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
	if err := l.Cancel(id); err != ErrTransferNotFound {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
	if _, err := l.Get(id); err != ErrTransferNotFound {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

// TestStorePersistence asserts records and counters are written through to
// the store, and that a fresh log rehydrates the fulfilled balances and
// reads records lazily.
func TestStorePersistence(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	l := newTestLog(t, store)

	in := testTransfer("3f51d917-3f3e-4f24-9b31-176cbb461a9f", 5)
	if err := l.Prepare(in, true); err != nil {
		t.Fatalf("unable to prepare transfer: %v", err)
	}

	var fulfillment [32]byte
	copy(fulfillment[:], []byte("preimage"))
	if err := l.Fulfill(in.ID, fulfillment); err != nil {
		t.Fatalf("unable to fulfill transfer: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("unable to close log: %v", err)
	}

	if raw, _ := store.Get("test:tl:balance:if"); string(raw) != "5" {
		t.Fatalf("fulfilled counter not persisted: %q", raw)
	}
	if raw, _ := store.Get("test:tl:transfer:" + in.ID); raw == nil {
		t.Fatalf("record not persisted")
	}

	// A fresh log over the same store continues with the fulfilled
	// balance and can fault the record back in.
	l2 := newTestLog(t, store)
	if balance := l2.Balance(); balance != 5 {
		t.Fatalf("balance not rehydrated: %d", balance)
	}

	record, err := l2.Get(in.ID)
	if err != nil {
		t.Fatalf("unable to fault record in: %v", err)
	}
	if record.State != StateFulfilled ||
		record.Transfer.Amount != 5 || !record.IsIncoming {

		t.Fatalf("rehydrated record mangled: %v", record)
	}

	// The terminal state survives the restart as well.
	if err := l2.Fulfill(in.ID, fulfillment); err != ErrAlreadyFulfilled {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
}

// TestStoreWriteFailure asserts a failing store write surfaces to the
// caller while the in-memory state remains authoritative.
func TestStoreWriteFailure(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	l := newTestLog(t, store)

	store.mx.Lock()
	store.failPut = true
	store.mx.Unlock()

	in := testTransfer("b0c2cbe3-3a1c-470e-b1f1-2b0dbcbd1e2e", 3)
	if err := l.Prepare(in, true); err == nil {
		t.Fatalf("expected store failure to surface")
	}

	// The in-memory commit stands.
	if _, err := l.Get(in.ID); err != nil {
		t.Fatalf("in-memory record should exist: %v", err)
	}
	if balance := l.IncomingFulfilledAndPrepared(); balance != 3 {
		t.Fatalf("in-memory escrow should stand: %d", balance)
	}
}
