package dsi

import (
	"sync"

	"github.com/dsi-runtime/dsi/internal/attach"
	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/registry"
	"github.com/dsi-runtime/dsi/internal/wire"
)

// Callbacks are the application-level attach hooks a concrete proxy fills
// in, distinct from attach.Callbacks (which this package wires internally
// to also register the proxy with its owning Engine).
type Callbacks struct {
	ComponentConnected    func(p *Proxy)
	ComponentDisconnected func(p *Proxy)
}

type proxyResult struct {
	result  wire.ResultType
	payload []byte
}

// Proxy is the generated-client base: the attach state machine for one
// server interface plus the pending-request and attribute-subscription
// bookkeeping a generated proxy method builds on. Grounded on
// original_source/include/dsi/private/attributes.hpp's ClientAttribute
// machinery and original_source/src/base/CClientConnectSM.cpp for attach.
type Proxy struct {
	eng *Engine
	sm  *attach.StateMachine
	app Callbacks

	serverID wire.PartyID
	clientID wire.PartyID

	mu       sync.Mutex
	pending  map[uint32]chan proxyResult
	watchers map[uint32]func(result wire.ResultType, payload []byte)
}

func newProxy(eng *Engine, desc registry.InterfaceDescriptor, callbacks Callbacks) *Proxy {
	p := &Proxy{
		eng:      eng,
		app:      callbacks,
		pending:  make(map[uint32]chan proxyResult),
		watchers: make(map[uint32]func(wire.ResultType, []byte)),
	}
	p.sm = attach.New(eng.cfg, eng.reg, desc, eng.pid, eng.localChanID, attach.Callbacks{
		ComponentConnected:    p.onConnected,
		ComponentDisconnected: p.onDisconnected,
	})
	return p
}

// Attach runs the attach state machine to completion.
func (p *Proxy) Attach() error { return p.sm.Attach() }

// State reports the attach state machine's current state.
func (p *Proxy) State() attach.State { return p.sm.State() }

func (p *Proxy) channel() channel.Channel { return p.sm.Channel() }

func (p *Proxy) onConnected() {
	p.serverID = p.sm.ServerID()
	p.clientID = p.sm.ClientID()
	p.eng.registerProxy(p.clientID, p)
	if p.app.ComponentConnected != nil {
		p.app.ComponentConnected(p)
	}
}

func (p *Proxy) onDisconnected() {
	if p.app.ComponentDisconnected != nil {
		p.app.ComponentDisconnected(p)
	}
}

func (p *Proxy) detach() {
	if ch := p.sm.Channel(); ch != nil {
		_ = sendOneMessage(ch, p.serverID, p.clientID, wire.CmdDisconnectRequest, p.sm.ProtoMinor(), wire.EventInfo{}, nil)
		ch.Close()
	}
}

func (p *Proxy) send(requestType wire.RequestType, id uint32, seqNr int32, payload []byte) error {
	info := wire.EventInfo{RequestType: requestType, RequestID: id, SequenceNumber: seqNr}
	for _, pkt := range wire.Fragment(p.serverID, p.clientID, wire.CmdDataRequest, p.sm.ProtoMinor(), info, false, payload) {
		if err := p.sm.Channel().SendAll(pkt); err != nil {
			return err
		}
	}
	return nil
}

// Call issues requestID as a plain REQUEST and blocks for its response. It
// fails with errRequestBusy rather than clobbering an existing Call already
// pending on the same requestID, which would otherwise leak that caller's
// goroutine forever on its channel receive.
func (p *Proxy) Call(requestID uint32, payload []byte) (wire.ResultType, []byte, error) {
	ch := make(chan proxyResult, 1)
	p.mu.Lock()
	if _, busy := p.pending[requestID]; busy {
		p.mu.Unlock()
		return 0, nil, errRequestBusy
	}
	p.pending[requestID] = ch
	p.mu.Unlock()

	if err := p.send(wire.REQUEST, requestID, wire.InvalidSequenceNr, payload); err != nil {
		p.mu.Lock()
		delete(p.pending, requestID)
		p.mu.Unlock()
		return 0, nil, err
	}

	res := <-ch
	return res.result, res.payload, nil
}

// Watch arms handler to run whenever a DataResponse for id arrives outside
// a pending Call -- the path a REQUEST_NOTIFY/REQUEST_REGISTER_NOTIFY
// subscription or an attribute update takes. Passing a nil handler
// disarms it.
func (p *Proxy) Watch(id uint32, handler func(result wire.ResultType, payload []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if handler == nil {
		delete(p.watchers, id)
		return
	}
	p.watchers[id] = handler
}

// NotifyOn subscribes to id with REQUEST_NOTIFY: for an attribute id that
// is Ok or Invalid the server replies at once, and the subscription then
// receives every later SendNotification for id until StopNotifyOn or
// StopAllNotify cancels it. Use RegisterNotifyOn to group subscriptions
// under a shared session.
func (p *Proxy) NotifyOn(id uint32) error {
	return p.send(wire.REQUEST_NOTIFY, id, wire.InvalidSequenceNr, nil)
}

// RegisterNotifyOn subscribes to id under register-session seqNr, grouping
// it with every other id registered under the same seqNr so
// StopAllRegisterNotify can cancel them together.
func (p *Proxy) RegisterNotifyOn(id uint32, seqNr int32) error {
	return p.send(wire.REQUEST_REGISTER_NOTIFY, id, seqNr, nil)
}

// StopNotifyOn cancels a single id's subscription, however it was opened.
func (p *Proxy) StopNotifyOn(id uint32) error {
	return p.send(wire.REQUEST_STOP_NOTIFY, id, wire.InvalidSequenceNr, nil)
}

// StopAllNotify cancels every notification the server holds for this
// proxy's client id, register-session subscriptions included.
func (p *Proxy) StopAllNotify() error {
	return p.send(wire.REQUEST_STOP_ALL_NOTIFY, 0, wire.InvalidSequenceNr, nil)
}

// StopAllRegisterNotify cancels every register-session subscription opened
// under seqNr.
func (p *Proxy) StopAllRegisterNotify(seqNr int32) error {
	return p.send(wire.REQUEST_STOP_ALL_REGISTER_NOTIFY, 0, seqNr, nil)
}

func (p *Proxy) handleResponse(info wire.EventInfo, payload []byte) {
	p.mu.Lock()
	ch, hasPending := p.pending[info.RequestID]
	if hasPending {
		delete(p.pending, info.RequestID)
	}
	watcher, hasWatcher := p.watchers[info.RequestID]
	p.mu.Unlock()

	if hasPending {
		ch <- proxyResult{info.ResultType, payload}
	}
	if hasWatcher {
		watcher(info.ResultType, payload)
	}
}
