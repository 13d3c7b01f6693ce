package transferlog

import (
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/queue"
)

// Store is the narrow key-value interface the transfer log persists through.
// A Get for an absent key returns a nil value and a nil error.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Del(key string) error
}

// The keys the log writes below its configured prefix.
const (
	keyMaximum           = "tl:maximum"
	keyMinimum           = "tl:minimum"
	keyIncomingFulfilled = "tl:balance:if"
	keyOutgoingFulfilled = "tl:balance:of"
	keyTransferPrefix    = "tl:transfer:"
)

// storeWrite is one queued mutation of the backing store. The done channel
// carries the outcome back to the enqueuing call once every prior write has
// been applied.
type storeWrite struct {
	key    string
	value  []byte
	delete bool
	done   chan error
}

// writeQueue applies store mutations strictly in the order they were
// enqueued. A single worker drains a concurrent queue so that commit order
// on disk matches commit order in memory, and memory stays bounded under
// load.
type writeQueue struct {
	stopped int32

	store Store
	queue *queue.ConcurrentQueue

	wg   sync.WaitGroup
	quit chan struct{}
}

// newWriteQueue creates a write queue over the given store and starts its
// worker.
func newWriteQueue(store Store) *writeQueue {
	q := &writeQueue{
		store: store,
		queue: queue.NewConcurrentQueue(16),
		quit:  make(chan struct{}),
	}
	q.queue.Start()

	q.wg.Add(1)
	go q.worker()

	return q
}

// worker applies queued writes one at a time until the queue shuts down.
func (q *writeQueue) worker() {
	defer q.wg.Done()

	for {
		select {
		case item, ok := <-q.queue.ChanOut():
			if !ok {
				return
			}
			write := item.(*storeWrite)

			var err error
			if write.delete {
				err = q.store.Del(write.key)
			} else {
				err = q.store.Put(write.key, write.value)
			}
			if err != nil {
				log.Errorf("store write for key %v failed: %v",
					write.key, err)
			}
			write.done <- err

		case <-q.quit:
			return
		}
	}
}

// enqueue hands a write to the worker and blocks until it has been applied,
// returning the store's verdict.
func (q *writeQueue) enqueue(write *storeWrite) error {
	if atomic.LoadInt32(&q.stopped) != 0 {
		return ErrLogClosed
	}

	write.done = make(chan error, 1)
	select {
	case q.queue.ChanIn() <- write:
	case <-q.quit:
		return ErrLogClosed
	}

	select {
	case err := <-write.done:
		return err
	case <-q.quit:
		return ErrLogClosed
	}
}

// put persists value under key, after all previously enqueued writes.
func (q *writeQueue) put(key string, value []byte) error {
	return q.enqueue(&storeWrite{key: key, value: value})
}

// del removes key, after all previously enqueued writes.
func (q *writeQueue) del(key string) error {
	return q.enqueue(&storeWrite{key: key, delete: true})
}

// stop shuts the worker down. Writes enqueued after stop fail with
// ErrLogClosed.
func (q *writeQueue) stop() {
	if !atomic.CompareAndSwapInt32(&q.stopped, 0, 1) {
		return
	}

	close(q.quit)
	q.queue.Stop()
	q.wg.Wait()
}
