package btpplugin

import (
	"testing"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
)

// TestEventSubscriptions asserts observers only see their event type, and
// that cancelled subscriptions go quiet.
func TestEventSubscriptions(t *testing.T) {
	t.Parallel()

	events := NewEvents()
	transfer := &transferlog.Transfer{ID: "t1"}

	var prepares, fulfills int
	sub := events.SubscribeIncomingPrepare(func(*TransferEvent) {
		prepares++
	})
	events.SubscribeIncomingFulfill(func(*TransferEvent) {
		fulfills++
	})

	events.notify(EventIncomingPrepare, &TransferEvent{Transfer: transfer})
	if prepares != 1 || fulfills != 0 {
		t.Fatalf("wrong delivery: prepares=%d fulfills=%d", prepares,
			fulfills)
	}

	events.notify(EventIncomingFulfill, &TransferEvent{Transfer: transfer})
	if prepares != 1 || fulfills != 1 {
		t.Fatalf("wrong delivery: prepares=%d fulfills=%d", prepares,
			fulfills)
	}

	sub.Cancel()
	events.notify(EventIncomingPrepare, &TransferEvent{Transfer: transfer})
	if prepares != 1 {
		t.Fatalf("cancelled subscription still fired")
	}

	// Cancelling twice is harmless.
	sub.Cancel()
}

// TestEventPanicContainment asserts a panicking observer cannot take down
// the notifier or starve its siblings.
func TestEventPanicContainment(t *testing.T) {
	t.Parallel()

	events := NewEvents()
	transfer := &transferlog.Transfer{ID: "t1"}

	events.SubscribeOutgoingFulfill(func(*TransferEvent) {
		panic("observer gone wrong")
	})

	delivered := false
	events.SubscribeOutgoingFulfill(func(*TransferEvent) {
		delivered = true
	})

	events.notify(EventOutgoingFulfill, &TransferEvent{Transfer: transfer})
	if !delivered {
		t.Fatalf("sibling observer starved by panic")
	}
}
