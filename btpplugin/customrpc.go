package btpplugin

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
)

// SideProtocolHandler serves one named side protocol carried over BTP
// MESSAGE frames. It receives the raw bytes of the protocol's entry and
// returns the JSON document sent back as the protocol's response entry.
type SideProtocolHandler func(data []byte) (interface{}, error)

// sideProtocolRegistry holds the application's custom side protocol
// handlers. Built-in protocols are dispatched before the registry is
// consulted, so applications cannot shadow them.
type sideProtocolRegistry struct {
	mx       sync.Mutex
	handlers map[string]SideProtocolHandler
}

func newSideProtocolRegistry() *sideProtocolRegistry {
	return &sideProtocolRegistry{
		handlers: make(map[string]SideProtocolHandler),
	}
}

// register installs a handler for a protocol name, refusing duplicates.
func (r *sideProtocolRegistry) register(name string,
	handler SideProtocolHandler) error {

	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("side protocol %q already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// deregister removes a protocol handler.
func (r *sideProtocolRegistry) deregister(name string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	delete(r.handlers, name)
}

// dispatch runs every registered handler named by the message's entries and
// collects one JSON response entry per served protocol. The boolean reports
// whether any handler matched at all.
func (r *sideProtocolRegistry) dispatch(entries []btpwire.ProtocolData) (
	[]btpwire.ProtocolData, bool, error) {

	var responses []btpwire.ProtocolData
	matched := false

	for _, entry := range entries {
		r.mx.Lock()
		handler, ok := r.handlers[entry.Name]
		r.mx.Unlock()
		if !ok {
			continue
		}
		matched = true

		result, err := handler(entry.Data)
		if err != nil {
			return nil, true, err
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, true, err
		}
		responses = append(responses, btpwire.ProtocolData{
			Name:        entry.Name,
			ContentType: btpwire.ContentTypeJSON,
			Data:        encoded,
		})
	}

	return responses, matched, nil
}
