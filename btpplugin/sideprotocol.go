package btpplugin

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strconv"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btprpc"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/btpwire"
	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
)

// The built-in side protocol names a plugin answers without application
// involvement.
const (
	infoProtocol    = "info"
	balanceProtocol = "balance"
	limitProtocol   = "limit"
	claimProtocol   = "claim"
)

// rpcHandler adapts the plugin to the rpc engine's dispatch interface so
// the transfer handlers stay off the plugin's public surface.
type rpcHandler struct {
	p *Plugin
}

// A compile time check to ensure rpcHandler implements the btprpc.Handler
// interface.
var _ btprpc.Handler = (*rpcHandler)(nil)

// HandlePrepare records an incoming conditional transfer.
//
// This is part of the btprpc.Handler interface.
func (h *rpcHandler) HandlePrepare(prepare *btpwire.Prepare) error {
	return h.p.handleIncomingPrepare(prepare)
}

// HandleFulfill settles one of our outgoing transfers.
//
// This is part of the btprpc.Handler interface.
func (h *rpcHandler) HandleFulfill(fulfill *btpwire.Fulfill) (
	[]btpwire.ProtocolData, error) {

	return h.p.handleIncomingFulfill(fulfill)
}

// HandleReject cancels one of our outgoing transfers.
//
// This is part of the btprpc.Handler interface.
func (h *rpcHandler) HandleReject(reject *btpwire.Reject) error {
	return h.p.handleIncomingReject(reject)
}

// HandleMessage dispatches a free-form MESSAGE frame.
//
// This is part of the btprpc.Handler interface.
func (h *rpcHandler) HandleMessage(msg *btpwire.DataMessage) (
	[]btpwire.ProtocolData, error) {

	return h.p.handleIncomingMessage(msg)
}

// handleIncomingPrepare implements the receive side of the transfer state
// machine: validate, escrow, let the backend veto, then announce.
func (p *Plugin) handleIncomingPrepare(prepare *btpwire.Prepare) error {
	id := FormatTransferID(prepare.TransferID)

	side, err := btpwire.ParseSideData(prepare.ProtocolData)
	if err != nil {
		return p.wireErrorf(btpwire.NameInvalidFieldsError, "%v", err)
	}

	transfer := &transferlog.Transfer{
		ID:                 id,
		From:               p.PeerAccount(),
		To:                 p.Account(),
		Ledger:             p.cfg.Prefix,
		Amount:             prepare.Amount,
		ExecutionCondition: prepare.ExecutionCondition,
		ExpiresAt:          prepare.ExpiresAt,
		Ilp:                side.Ilp,
		Custom:             side.Custom,
	}
	if err := ValidateTransfer(transfer); err != nil {
		return p.wireErrorf(btpwire.NameInvalidFieldsError, "%v", err)
	}

	// A transfer we have already seen is acknowledged again without
	// re-announcing it, as long as the contents still match.
	if _, err := p.tlog.Get(id); err == nil {
		if err := p.tlog.Prepare(transfer, true); err != nil {
			return p.wireLogError(err)
		}
		return nil
	}

	if err := p.tlog.Prepare(transfer, true); err != nil {
		return p.wireLogError(err)
	}

	// The backend gets a veto before the transfer becomes visible.
	err = p.cfg.Backend.HandleIncomingPrepare(context.Background(),
		transfer)
	if err != nil {
		log.Warnf("backend vetoed incoming transfer %v: %v", id, err)
		if cancelErr := p.tlog.Cancel(id); cancelErr != nil {
			log.Errorf("unable to cancel vetoed transfer %v: %v",
				id, cancelErr)
		}
		if _, ok := err.(*btpwire.Error); ok {
			return err
		}
		return p.wireErrorf(btpwire.NameNotAcceptedError, "%v", err)
	}

	p.scheduleExpiry(id, transfer.ExpiresAt)
	p.events.notify(EventIncomingPrepare, &TransferEvent{
		Transfer: transfer,
	})
	return nil
}

// handleIncomingFulfill implements the peer settling one of our outgoing
// transfers: verify direction, state, deadline and hash closure, credit the
// balance, and hand a fresh settlement claim back.
func (p *Plugin) handleIncomingFulfill(fulfill *btpwire.Fulfill) (
	[]btpwire.ProtocolData, error) {

	id := FormatTransferID(fulfill.TransferID)

	record, err := p.tlog.Get(id)
	if err != nil {
		return nil, p.wireLogError(err)
	}
	if record.IsIncoming {
		return nil, p.wireErrorf(btpwire.NameNotAcceptedError,
			"transfer %v is incoming, only we may fulfill it", id)
	}
	if err := p.checkTransition(record); err != nil {
		return nil, err
	}
	if !VerifyFulfillment(fulfill.Fulfillment,
		record.Transfer.ExecutionCondition) {

		return nil, p.wireErrorf(btpwire.NameInvalidFulfillmentError,
			"fulfillment does not hash to the condition")
	}

	if err := p.tlog.Fulfill(id, fulfill.Fulfillment); err != nil {
		return nil, p.wireLogError(err)
	}

	p.events.notify(EventOutgoingFulfill, &TransferEvent{
		Transfer:    record.Transfer,
		Fulfillment: fulfill.Fulfillment,
	})

	// The response carries a claim covering the new outgoing fulfilled
	// total.
	claim, err := p.cfg.Backend.CreateOutgoingClaim(context.Background(),
		p.tlog.OutgoingFulfilled())
	if err != nil {
		// The fulfill is committed either way; a missing claim only
		// delays settlement.
		log.Errorf("unable to create outgoing claim for %v: %v", id,
			err)
		return nil, nil
	}
	if claim == nil {
		return nil, nil
	}

	return []btpwire.ProtocolData{{
		Name:        claimProtocol,
		ContentType: btpwire.ContentTypeOctetStream,
		Data:        claim,
	}}, nil
}

// handleIncomingReject implements the peer disavowing one of our outgoing
// transfers.
func (p *Plugin) handleIncomingReject(reject *btpwire.Reject) error {
	id := FormatTransferID(reject.TransferID)

	record, err := p.tlog.Get(id)
	if err != nil {
		return p.wireLogError(err)
	}
	if record.IsIncoming {
		return p.wireErrorf(btpwire.NameNotAcceptedError,
			"transfer %v is incoming, the peer cannot reject it",
			id)
	}
	switch record.State {
	case transferlog.StateFulfilled:
		return p.wireErrorf(btpwire.NameAlreadyFulfilledError,
			"transfer %v is already fulfilled", id)
	case transferlog.StateCancelled:
		return p.wireErrorf(btpwire.NameAlreadyRolledBackError,
			"transfer %v is already rolled back", id)
	}

	if err := p.tlog.Cancel(id); err != nil {
		return p.wireLogError(err)
	}

	// The rejection reason rides as JSON in the ilp entry; absence is
	// tolerated.
	var reason *RejectionReason
	if side, err := btpwire.ParseSideData(reject.ProtocolData); err == nil &&
		len(side.Ilp) > 0 {

		parsed := &RejectionReason{}
		if err := json.Unmarshal(side.Ilp, parsed); err == nil {
			reason = parsed
		}
	}

	p.events.notify(EventOutgoingReject, &TransferEvent{
		Transfer: record.Transfer,
		Reason:   reason,
	})
	return nil
}

// handleIncomingMessage dispatches a MESSAGE frame: an attached ilp packet
// goes to the registered request handler, otherwise the primary protocol
// selects a built-in, and the custom registry serves the rest.
func (p *Plugin) handleIncomingMessage(msg *btpwire.DataMessage) (
	[]btpwire.ProtocolData, error) {

	side, err := btpwire.ParseSideData(msg.ProtocolData)
	if err != nil {
		return nil, p.wireErrorf(btpwire.NameInvalidFieldsError,
			"%v", err)
	}

	if len(side.Ilp) > 0 {
		return p.dispatchRequest(side)
	}

	switch msg.PrimaryProtocol() {
	case infoProtocol:
		encoded, err := json.Marshal(p.cfg.Info)
		if err != nil {
			return nil, err
		}
		return []btpwire.ProtocolData{{
			Name:        infoProtocol,
			ContentType: btpwire.ContentTypeJSON,
			Data:        encoded,
		}}, nil

	case balanceProtocol:
		return []btpwire.ProtocolData{{
			Name:        balanceProtocol,
			ContentType: btpwire.ContentTypeOctetStream,
			Data:        encodeBalance(p.tlog.Balance()),
		}}, nil

	case limitProtocol:
		encoded, err := json.Marshal(strconv.FormatInt(
			p.tlog.Maximum(), 10))
		if err != nil {
			return nil, err
		}
		return []btpwire.ProtocolData{{
			Name:        limitProtocol,
			ContentType: btpwire.ContentTypeJSON,
			Data:        encoded,
		}}, nil
	}

	responses, matched, err := p.sideRPC.dispatch(msg.ProtocolData)
	if err != nil {
		return nil, p.wireErrorf(btpwire.NameNotAcceptedError, "%v",
			err)
	}
	if !matched {
		return nil, p.wireErrorf(btpwire.NameNotAcceptedError,
			"unsupported side protocol %q",
			msg.PrimaryProtocol())
	}
	return responses, nil
}

// dispatchRequest forwards an ilp-carrying message to the registered
// request handler.
func (p *Plugin) dispatchRequest(side *btpwire.SideData) (
	[]btpwire.ProtocolData, error) {

	p.requestMx.Lock()
	handler := p.requestHandler
	p.requestMx.Unlock()

	if handler == nil {
		return nil, p.wireErrorf(btpwire.NameNotAcceptedError,
			"no request handler registered")
	}

	response, err := handler(side)
	if err != nil {
		if _, ok := err.(*btpwire.Error); ok {
			return nil, err
		}
		return nil, p.wireErrorf(btpwire.NameNotAcceptedError, "%v",
			err)
	}
	if response == nil {
		return nil, nil
	}

	return btpwire.MarshalSideData(response.Ilp, response.Custom)
}

// encodeBalance renders a balance as the signed 8 byte big endian integer
// the balance side protocol speaks.
func encodeBalance(balance int64) []byte {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(balance))
	return scratch[:]
}

// decodeBalance is the inverse of encodeBalance.
func decodeBalance(raw []byte) int64 {
	return int64(binary.BigEndian.Uint64(raw))
}
