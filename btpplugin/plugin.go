package btpplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btprpc"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
)

// Account name suffixes below the ledger prefix. The side that listens is
// the server account, the side that dials is the client account.
const (
	serverAccountSuffix = "server"
	clientAccountSuffix = "client"
)

// RejectionReason is the interledger error explaining why a transfer was
// rejected. It travels JSON encoded as the "ilp" entry of REJECT messages.
type RejectionReason struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Data        string    `json:"data"`
}

// RequestHandler answers peer messages that carry an ilp packet. The
// returned side data becomes the response message.
type RequestHandler func(request *btpwire.SideData) (*btpwire.SideData, error)

// Plugin is a bilateral payment channel plugin: it keeps an authoritative
// conditional-transfer ledger with its peer over a persistent BTP websocket
// connection. Escrowed amounts are released by revealing the SHA-256
// preimage of the transfer's condition before its deadline; a payment
// channel backend turns the resulting balances into settlement claims.
type Plugin struct {
	started int32
	stopped int32

	cfg      Config
	isServer bool
	creds    *BTPCredentials

	tlog     transferlog.Log
	engine   *btprpc.Engine
	listener *btprpc.Listener

	events  *Events
	sideRPC *sideProtocolRegistry

	requestMx      sync.Mutex
	requestHandler RequestHandler

	wg   sync.WaitGroup
	quit chan struct{}
}

// New creates a plugin from its config. The transfer log is opened (and
// rehydrated from the store, when one is configured) right away; the
// network side starts with Connect.
func New(cfg Config) (*Plugin, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Plugin{
		cfg:      cfg,
		isServer: cfg.Listener != nil,
		events:   NewEvents(),
		sideRPC:  newSideProtocolRegistry(),
		quit:     make(chan struct{}),
	}

	if !p.isServer {
		creds, err := ParseBTPURI(cfg.Server)
		if err != nil {
			return nil, err
		}
		p.creds = creds
	}

	tlog, err := cfg.TransferLog(transferlog.Config{
		Maximum:   cfg.MaxBalance,
		Minimum:   cfg.MinBalance,
		Store:     cfg.Store,
		KeyPrefix: cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}
	p.tlog = tlog

	p.engine = btprpc.New(btprpc.Config{
		Handler:        &rpcHandler{p},
		AuthTimeout:    cfg.AuthTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Clock:          cfg.Clock,
	})

	return p, nil
}

// Connect brings the network side up: in server mode the listener starts
// accepting peers, in client mode the peer is dialed and authenticated.
// The payment channel backend is connected last.
func (p *Plugin) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return nil
	}

	if p.isServer {
		p.listener = btprpc.NewListener(btprpc.ListenerConfig{
			Port:        p.cfg.Listener.Port,
			TLSCertPath: p.cfg.Listener.TLSCertPath,
			TLSKeyPath:  p.cfg.Listener.TLSKeyPath,
			OnSocket:    p.acceptSocket,
		})
		if err := p.listener.Start(); err != nil {
			return err
		}
	} else {
		socket, err := btprpc.Dial(p.creds.WsURL, nil)
		if err != nil {
			return err
		}
		_, err = p.engine.AddSocket(socket, btprpc.ClientRole{
			Username: p.creds.Username,
			Token:    p.creds.Token,
		})
		if err != nil {
			return err
		}
	}

	if err := p.cfg.Backend.Connect(ctx); err != nil {
		return err
	}

	log.Infof("plugin connected as %v", p.Account())
	return nil
}

// Disconnect deterministically tears everything down: the backend is
// disconnected, the listener stops accepting, every in-flight request
// resolves with a connection-closed error and the transfer log's store
// writer drains.
func (p *Plugin) Disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.stopped, 0, 1) {
		return nil
	}

	close(p.quit)

	if err := p.cfg.Backend.Disconnect(ctx); err != nil {
		log.Errorf("backend disconnect failed: %v", err)
	}
	if p.listener != nil {
		if err := p.listener.Stop(); err != nil {
			log.Errorf("listener stop failed: %v", err)
		}
	}
	if err := p.engine.Stop(); err != nil {
		log.Errorf("engine stop failed: %v", err)
	}

	p.wg.Wait()
	return p.tlog.Close()
}

// acceptSocket hands a freshly accepted socket to the engine under the
// server role.
func (p *Plugin) acceptSocket(socket btprpc.Socket) {
	_, err := p.engine.AddSocket(socket, btprpc.ServerRole{
		AuthCheck: p.authCheck,
	})
	if err != nil {
		log.Errorf("unable to register accepted socket: %v", err)
	}
}

// authCheck judges inbound credentials: the configured check wins, the
// shared incoming secret is the fallback.
func (p *Plugin) authCheck(username, token string) bool {
	if p.cfg.AuthCheck != nil {
		return p.cfg.AuthCheck(username, token)
	}
	return token == p.cfg.IncomingSecret
}

// ListenAddr returns the bound listener address, valid after Connect in
// server mode. Useful when the listener was configured with port zero.
func (p *Plugin) ListenAddr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Account returns our own address below the ledger prefix.
func (p *Plugin) Account() string {
	if p.isServer {
		return p.cfg.Prefix + serverAccountSuffix
	}
	return p.cfg.Prefix + clientAccountSuffix
}

// PeerAccount returns the peer's address below the ledger prefix.
func (p *Plugin) PeerAccount() string {
	if p.isServer {
		return p.cfg.Prefix + clientAccountSuffix
	}
	return p.cfg.Prefix + serverAccountSuffix
}

// Events exposes the lifecycle notifier for subscriptions.
func (p *Plugin) Events() *Events {
	return p.events
}

// GetBalance returns the visible net balance as a decimal string: incoming
// fulfilled minus outgoing fulfilled.
func (p *Plugin) GetBalance() string {
	return strconv.FormatInt(p.tlog.Balance(), 10)
}

// GetLimit returns the incoming balance bound as a decimal string.
func (p *Plugin) GetLimit() string {
	return strconv.FormatInt(p.tlog.Maximum(), 10)
}

// GetInfo returns the plugin info document.
func (p *Plugin) GetInfo() map[string]interface{} {
	return p.cfg.Info
}

// GetPeerBalance queries the peer's view of the balance over the balance
// side protocol.
func (p *Plugin) GetPeerBalance() (string, error) {
	response, err := p.SendRequest([]btpwire.ProtocolData{{
		Name:        balanceProtocol,
		ContentType: btpwire.ContentTypeOctetStream,
	}})
	if err != nil {
		return "", err
	}

	side, err := btpwire.ParseSideData(response)
	if err != nil {
		return "", err
	}
	raw, ok := side.Map[balanceProtocol]
	if !ok || len(raw) != 8 {
		return "", fmt.Errorf("peer returned a malformed balance")
	}

	return strconv.FormatInt(decodeBalance(raw), 10), nil
}

// SendRequest sends a free-form MESSAGE to the peer and returns the
// response's sub-protocol entries.
func (p *Plugin) SendRequest(data []btpwire.ProtocolData) (
	[]btpwire.ProtocolData, error) {

	response, err := p.engine.Call(btpwire.NewDataMessage(data))
	if err != nil {
		return nil, err
	}
	return response.ProtocolData, nil
}

// RegisterRequestHandler installs the handler answering peer messages that
// carry an ilp packet. Only one handler can be registered at a time.
func (p *Plugin) RegisterRequestHandler(handler RequestHandler) error {
	p.requestMx.Lock()
	defer p.requestMx.Unlock()

	if p.requestHandler != nil {
		return fmt.Errorf("request handler already registered")
	}
	p.requestHandler = handler
	return nil
}

// DeregisterRequestHandler removes the request handler.
func (p *Plugin) DeregisterRequestHandler() {
	p.requestMx.Lock()
	defer p.requestMx.Unlock()

	p.requestHandler = nil
}

// RegisterSideProtocolHandler installs a handler for a custom side protocol
// dispatched over MESSAGE frames. The built-in protocol names are off
// limits.
func (p *Plugin) RegisterSideProtocolHandler(name string,
	handler SideProtocolHandler) error {

	switch name {
	case infoProtocol, balanceProtocol, limitProtocol, "auth", "ilp":
		return fmt.Errorf("side protocol %q is reserved", name)
	}
	return p.sideRPC.register(name, handler)
}

// DeregisterSideProtocolHandler removes a custom side protocol handler.
func (p *Plugin) DeregisterSideProtocolHandler(name string) {
	p.sideRPC.deregister(name)
}

// SendTransfer escrows an outgoing conditional transfer and announces it to
// the peer. The local prepare happens first so the escrow can never race
// the peer's view of it; the call returns once the peer acknowledged the
// PREPARE. If the peer refuses or the request times out the local escrow
// intentionally stays: the expiry timer reclaims it.
func (p *Plugin) SendTransfer(transfer *transferlog.Transfer) error {
	if transfer.Ledger == "" {
		transfer.Ledger = p.cfg.Prefix
	}
	if transfer.From == "" {
		transfer.From = p.Account()
	}
	if transfer.To == "" {
		transfer.To = p.PeerAccount()
	}

	if err := ValidateTransfer(transfer); err != nil {
		return p.wireErrorf(btpwire.NameInvalidFieldsError, "%v", err)
	}
	if transfer.From != p.Account() || transfer.To != p.PeerAccount() {
		return p.wireErrorf(btpwire.NameInvalidFieldsError,
			"transfer must go from %v to %v", p.Account(),
			p.PeerAccount())
	}

	wireID, err := ParseTransferID(transfer.ID)
	if err != nil {
		return p.wireErrorf(btpwire.NameInvalidFieldsError, "%v", err)
	}

	if err := p.tlog.Prepare(transfer, false); err != nil {
		return p.wireLogError(err)
	}
	p.scheduleExpiry(transfer.ID, transfer.ExpiresAt)

	protocolData, err := btpwire.MarshalSideData(transfer.Ilp,
		transfer.Custom)
	if err != nil {
		return err
	}

	_, err = p.engine.Call(btpwire.NewPrepare(wireID, transfer.Amount,
		transfer.ExecutionCondition, transfer.ExpiresAt, protocolData))
	if err != nil {
		// The local escrow stands until expiry even though the peer
		// never recorded the transfer.
		log.Warnf("peer did not accept prepare of %v: %v",
			transfer.ID, err)
		return err
	}

	p.events.notify(EventOutgoingPrepare, &TransferEvent{
		Transfer: transfer,
	})
	return nil
}

// FulfillCondition settles an incoming prepared transfer by presenting the
// preimage of its condition, encoded as unpadded base64url. The peer is
// notified with a FULFILL; a claim attached to its response is forwarded to
// the payment channel backend.
func (p *Plugin) FulfillCondition(id, fulfillment string) error {
	preimage, err := ParseFulfillment(fulfillment)
	if err != nil {
		return p.wireErrorf(btpwire.NameInvalidFulfillmentError,
			"%v", err)
	}

	record, err := p.tlog.Get(id)
	if err != nil {
		return p.wireLogError(err)
	}
	if !record.IsIncoming {
		return p.wireErrorf(btpwire.NameNotAcceptedError,
			"transfer %v is outgoing, the peer must fulfill it",
			id)
	}
	if err := p.checkTransition(record); err != nil {
		return err
	}
	if !VerifyFulfillment(preimage, record.Transfer.ExecutionCondition) {
		return p.wireErrorf(btpwire.NameInvalidFulfillmentError,
			"fulfillment does not hash to the condition")
	}

	if err := p.tlog.Fulfill(id, preimage); err != nil {
		return p.wireLogError(err)
	}

	p.events.notify(EventIncomingFulfill, &TransferEvent{
		Transfer:    record.Transfer,
		Fulfillment: preimage,
	})

	wireID, err := ParseTransferID(id)
	if err != nil {
		return err
	}
	response, err := p.engine.Call(btpwire.NewFulfill(wireID, preimage,
		nil))
	if err != nil {
		// The fulfillment is committed locally; the FULFILL is not
		// resent.
		log.Warnf("unable to deliver fulfillment of %v: %v", id, err)
		return nil
	}

	// A claim riding on the response goes to the settlement layer.
	side, err := btpwire.ParseSideData(response.ProtocolData)
	if err != nil {
		log.Warnf("malformed fulfill response for %v: %v", id, err)
		return nil
	}
	if claim, ok := side.Map[claimProtocol]; ok {
		err := p.cfg.Backend.HandleIncomingClaim(context.Background(),
			claim)
		if err != nil {
			log.Errorf("backend refused incoming claim for %v: %v",
				id, err)
		}
	}

	return nil
}

// RejectIncomingTransfer cancels an incoming prepared transfer and tells
// the peer why.
func (p *Plugin) RejectIncomingTransfer(id string,
	reason *RejectionReason) error {

	record, err := p.tlog.Get(id)
	if err != nil {
		return p.wireLogError(err)
	}
	if !record.IsIncoming {
		return p.wireErrorf(btpwire.NameNotAcceptedError,
			"transfer %v is outgoing and cannot be rejected here",
			id)
	}
	if err := p.checkTransition(record); err != nil {
		return err
	}

	if err := p.tlog.Cancel(id); err != nil {
		return p.wireLogError(err)
	}

	p.events.notify(EventIncomingReject, &TransferEvent{
		Transfer: record.Transfer,
		Reason:   reason,
	})

	return p.sendReject(id, reason)
}

// sendReject delivers a REJECT with the JSON encoded reason as its ilp
// entry, best effort.
func (p *Plugin) sendReject(id string, reason *RejectionReason) error {
	wireID, err := ParseTransferID(id)
	if err != nil {
		return err
	}

	var protocolData []btpwire.ProtocolData
	if reason != nil {
		encoded, err := json.Marshal(reason)
		if err != nil {
			return err
		}
		protocolData = append(protocolData, btpwire.ProtocolData{
			Name:        "ilp",
			ContentType: btpwire.ContentTypeOctetStream,
			Data:        encoded,
		})
	}

	if _, err := p.engine.Call(btpwire.NewReject(wireID,
		protocolData)); err != nil {

		log.Warnf("unable to deliver rejection of %v: %v", id, err)
	}
	return nil
}

// checkTransition turns a record's terminal state or passed deadline into
// the matching wire error. Only prepared, unexpired transfers pass.
func (p *Plugin) checkTransition(record *transferlog.Record) error {
	switch record.State {
	case transferlog.StateFulfilled:
		return p.wireErrorf(btpwire.NameAlreadyFulfilledError,
			"transfer %v is already fulfilled",
			record.Transfer.ID)

	case transferlog.StateCancelled:
		return p.wireErrorf(btpwire.NameAlreadyRolledBackError,
			"transfer %v is already rolled back",
			record.Transfer.ID)
	}

	if !p.cfg.Clock.Now().Before(record.Transfer.ExpiresAt) {
		return p.wireErrorf(btpwire.NameTransferTimedOut, "transfer "+
			"%v expired at %v", record.Transfer.ID,
			record.Transfer.ExpiresAt)
	}

	return nil
}

// scheduleExpiry arms the reclaim timer for a prepared transfer. The timer
// is implicitly cancelled by the state check when it fires.
func (p *Plugin) scheduleExpiry(id string, expiresAt time.Time) {
	delay := expiresAt.Sub(p.cfg.Clock.Now())
	if delay < 0 {
		delay = 0
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case <-p.cfg.Clock.TickAfter(delay):
			p.handleExpiry(id)
		case <-p.quit:
		}
	}()
}

// handleExpiry reclaims a transfer that is still prepared when its deadline
// passes. Outgoing transfers are disavowed towards the peer with an R00
// rejection.
func (p *Plugin) handleExpiry(id string) {
	record, err := p.tlog.Get(id)
	if err != nil {
		log.Errorf("expiry for unknown transfer %v: %v", id, err)
		return
	}
	if record.State != transferlog.StatePrepared {
		return
	}

	if err := p.tlog.Cancel(id); err != nil {
		log.Errorf("unable to cancel expired transfer %v: %v", id,
			err)
		return
	}

	log.Debugf("transfer %v expired", id)

	reason := &RejectionReason{
		Code:        btpwire.CodeTransferTimedOut.String(),
		Name:        btpwire.NameTransferTimedOut,
		TriggeredAt: p.cfg.Clock.Now(),
		Data:        "expired",
	}
	event := &TransferEvent{
		Transfer: record.Transfer,
		Reason:   reason,
	}

	if record.IsIncoming {
		p.events.notify(EventIncomingCancel, event)
		return
	}

	if err := p.sendReject(id, reason); err != nil {
		log.Warnf("unable to send expiry rejection for %v: %v", id,
			err)
	}
	p.events.notify(EventOutgoingCancel, event)
}

// wireErrorf builds a wire error by symbolic name with a JSON message
// payload.
func (p *Plugin) wireErrorf(name, format string,
	args ...interface{}) *btpwire.Error {

	message := fmt.Sprintf(format, args...)
	data, _ := json.Marshal(map[string]string{"message": message})
	return btpwire.NewError(btpwire.CodeForName(name), name,
		p.cfg.Clock.Now(), data)
}

// wireLogError translates transfer log failures into their wire error
// equivalents.
func (p *Plugin) wireLogError(err error) error {
	switch err {
	case transferlog.ErrTransferNotFound:
		return p.wireErrorf(btpwire.NameTransferNotFoundError,
			"no such transfer")

	case transferlog.ErrDuplicateID:
		return p.wireErrorf(btpwire.NameDuplicateIdError,
			"transfer id is already used with different contents")

	case transferlog.ErrAlreadyFulfilled:
		return p.wireErrorf(btpwire.NameAlreadyFulfilledError,
			"transfer is already fulfilled")

	case transferlog.ErrAlreadyRolledBack:
		return p.wireErrorf(btpwire.NameAlreadyRolledBackError,
			"transfer is already rolled back")

	case transferlog.ErrMaximumExceeded:
		return p.wireErrorf(btpwire.NameNotAcceptedError,
			"transfer would exceed the maximum balance")

	case transferlog.ErrMinimumExceeded:
		return p.wireErrorf(btpwire.NameInsufficientBalanceError,
			"transfer would drop the balance below the minimum")

	default:
		return err
	}
}
