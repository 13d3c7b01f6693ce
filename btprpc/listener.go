package btprpc

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ListenerConfig defines the configuration for the websocket listener.
type ListenerConfig struct {
	// Port is the TCP port to accept websocket connections on.
	Port int

	// TLSCertPath and TLSKeyPath enable wss when both are set.
	TLSCertPath string
	TLSKeyPath  string

	// OnSocket receives every accepted socket. The callback is expected
	// to hand the socket to an engine with a server role.
	OnSocket func(Socket)
}

// Listener accepts inbound websocket connections and forwards them, wrapped
// as Sockets, to the configured callback. It is the thin edge between the
// http stack and the rpc engine.
type Listener struct {
	started  int32
	shutdown int32

	cfg ListenerConfig

	listener net.Listener
	server   *http.Server

	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

// NewListener creates a new listener from the given config.
func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Peer authentication happens inside the BTP
			// handshake, not at the http layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start begins accepting connections. It returns once the TCP listener is
// bound; serving happens in the background.
func (l *Listener) Start() error {
	if !atomic.CompareAndSwapInt32(&l.started, 0, 1) {
		return nil
	}

	addr := fmt.Sprintf(":%d", l.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	l.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		var err error
		if l.cfg.TLSCertPath != "" && l.cfg.TLSKeyPath != "" {
			err = l.server.ServeTLS(listener, l.cfg.TLSCertPath,
				l.cfg.TLSKeyPath)
		} else {
			err = l.server.Serve(listener)
		}
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("websocket listener exited: %v", err)
		}
	}()

	log.Infof("btp listener accepting connections on %v",
		listener.Addr())
	return nil
}

// Addr returns the bound address, valid after Start.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// handleUpgrade turns an inbound http request into a websocket and hands it
// off.
func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&l.shutdown) == 1 {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("unable to upgrade connection from %v: %v",
			r.RemoteAddr, err)
		return
	}

	log.Debugf("accepted websocket from %v", r.RemoteAddr)
	l.cfg.OnSocket(NewWebSocket(conn))
}

// Stop closes the listener. Already accepted sockets are owned by the engine
// and unaffected.
func (l *Listener) Stop() error {
	if !atomic.CompareAndSwapInt32(&l.shutdown, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&l.started) == 0 {
		return nil
	}

	err := l.server.Close()
	l.wg.Wait()
	return err
}
