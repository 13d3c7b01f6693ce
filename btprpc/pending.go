package btprpc

import (
	"sync"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
)

// callResult is the single resolution of an outgoing request: the peer's
// response, or the error that stands in for it.
type callResult struct {
	response *btpwire.Response
	err      error
}

// pendingRequests is the table of in-flight outgoing requests keyed by
// request id. Each entry is resolved exactly once, by the first matching
// RESPONSE or ERROR frame, by timeout, or by engine shutdown; later frames
// for the same id are discarded.
type pendingRequests struct {
	mx      sync.Mutex
	pending map[uint32]chan *callResult
}

// newPendingRequests creates an empty table.
func newPendingRequests() *pendingRequests {
	return &pendingRequests{
		pending: make(map[uint32]chan *callResult),
	}
}

// register claims a request id and returns the channel its resolution will
// be delivered on. The caller owns removal via remove or a delivered
// resolution. The return is false if the id is already in flight.
func (p *pendingRequests) register(id uint32) (chan *callResult, bool) {
	p.mx.Lock()
	defer p.mx.Unlock()

	if _, ok := p.pending[id]; ok {
		return nil, false
	}

	result := make(chan *callResult, 1)
	p.pending[id] = result
	return result, true
}

// remove forgets an in-flight id, typically on timeout.
func (p *pendingRequests) remove(id uint32) {
	p.mx.Lock()
	defer p.mx.Unlock()

	delete(p.pending, id)
}

// resolve delivers the resolution for id and forgets it. Resolutions for
// unknown ids report false and are dropped by the caller.
func (p *pendingRequests) resolve(id uint32, result *callResult) bool {
	p.mx.Lock()
	resultChan, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mx.Unlock()

	if !ok {
		return false
	}

	resultChan <- result
	return true
}

// failAll resolves every in-flight request with the same error. Used on
// engine shutdown so no caller is left hanging.
func (p *pendingRequests) failAll(err error) {
	p.mx.Lock()
	pending := p.pending
	p.pending = make(map[uint32]chan *callResult)
	p.mx.Unlock()

	for _, resultChan := range pending {
		resultChan <- &callResult{err: err}
	}
}
