package dsi

import (
	"sync"

	"github.com/dsi-runtime/dsi/internal/session"
	"github.com/dsi-runtime/dsi/internal/wire"
)

// RequestContext is the client/sequence context a Stub operates under: set
// for the duration of a plain REQUEST handler, or restored by
// PrepareResponse for a previously unblocked one. Mirrors CServer's
// mClientID/mCurrentSequenceNr bookkeeping around processRequest().
type RequestContext struct {
	ClientID   wire.PartyID
	ResponseID uint32
	SequenceNr int32
}

// RequestCallback is invoked once a plain REQUEST has been admitted (i.e.
// was not busy). A generated stub method is responsible for eventually
// calling Respond, SendError, or UnblockRequest before returning; otherwise
// the request's pending-response entry stays in the Table and later calls
// of the same request id from that client are answered RESULT_REQUEST_BUSY.
type RequestCallback func(s *Stub, requestID uint32, payload []byte)

// AttributeStateFunc reports an attribute's current server-side state and
// its wire encoding, consulted when a fresh REQUEST_NOTIFY/REQUEST_REGISTER_NOTIFY
// subscriber arrives so it can get an immediate reply rather than waiting
// for the next change.
type AttributeStateFunc func(id uint32) (state AttributeState, encoded []byte)

// Stub is the generated-server base: one per server-side interface
// instance, sharing a session.Table with every other stub the owning
// Engine hosts. Grounded on original_source/src/base/CServer.cpp.
//
// OnRequest and AttrState are the hooks a concrete server fills in; without
// a code generator to produce a typed request handler per interface
// operation, HandleDataRequest instead dispatches every plain REQUEST
// through the single OnRequest callback, keyed by request id.
type Stub struct {
	ServerID wire.PartyID
	Table    *session.Table

	OnRequest    RequestCallback
	AttrState    AttributeStateFunc
	OnConnect    func(clientID wire.PartyID)
	OnDisconnect func(clientID wire.PartyID)

	// mu guards current: BeginRequest/EndRequest run on the engine's
	// dispatch goroutine, but UnblockRequest/PrepareResponse/Respond may
	// also run from whatever goroutine a deferred continuation resumes on
	// (see the UnblockRequest doc comment).
	mu      sync.Mutex
	current *RequestContext
}

// NewStub constructs a Stub bound to serverID, sharing table with the
// owning Engine's other stubs.
func NewStub(serverID wire.PartyID, table *session.Table) *Stub {
	return &Stub{ServerID: serverID, Table: table}
}

// BeginRequest records the context a plain REQUEST handler runs under.
func (s *Stub) BeginRequest(clientID wire.PartyID, responseID uint32, seqNr int32) {
	s.mu.Lock()
	s.current = &RequestContext{ClientID: clientID, ResponseID: responseID, SequenceNr: seqNr}
	s.mu.Unlock()
}

// EndRequest clears the current context, used once a handler returns
// without unblocking.
func (s *Stub) EndRequest() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Current returns the context a request handler is running under, or nil
// outside one (including after UnblockRequest, until a matching
// PrepareResponse).
func (s *Stub) Current() *RequestContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// UnblockRequest suspends the current request and returns a handle for a
// later PrepareResponse, mirroring CServer::unblockRequest. The stub is no
// longer "in" a request after this call.
func (s *Stub) UnblockRequest() (handle int32, ok bool) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return 0, false
	}
	handle, ok = s.Table.Unblock(cur.ClientID, cur.ResponseID)
	s.mu.Lock()
	if s.current == cur {
		s.current = nil
	}
	s.mu.Unlock()
	return handle, ok
}

// PrepareResponse restores a previously unblocked request as current,
// mirroring CServer::prepareResponse.
func (s *Stub) PrepareResponse(handle int32) bool {
	n, ok := s.Table.PrepareResponse(handle)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.current = &RequestContext{ClientID: n.ClientID, ResponseID: n.NotifyID, SequenceNr: n.SequenceNr}
	s.mu.Unlock()
	return true
}

// Respond answers the current request with result and payload, mirroring
// CServer::sendResponse for a plain REQUEST, and completes its pending-
// response bookkeeping.
func (s *Stub) Respond(result wire.ResultType, payload []byte) error {
	s.mu.Lock()
	cur := s.current
	if cur != nil {
		s.current = nil
	}
	s.mu.Unlock()
	if cur == nil {
		return errNoCurrentRequest
	}

	conn, ok := s.Table.FindConnection(cur.ClientID)
	if !ok {
		return errClientGone
	}
	err := sendDataMessage(conn.Channel, s.ServerID, cur.ClientID, wire.CmdDataResponse, uint32(result), cur.ResponseID, cur.SequenceNr, conn.ProtoMinor, payload)
	s.Table.CompleteResponse(cur.ClientID, cur.ResponseID)
	return err
}

// SendError answers the current request's updateId with
// RESULT_REQUEST_ERROR if it names a request, or RESULT_INVALID otherwise,
// mirroring Stub::sendError.
func (s *Stub) SendError() error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return errNoCurrentRequest
	}

	result := wire.RESULT_INVALID
	if wire.IsRequestID(cur.ResponseID) {
		result = wire.RESULT_REQUEST_ERROR
	}
	return s.Respond(result, nil)
}

// NotifyOk sends an immediate DATA_OK reply for id to clientID alone,
// bypassing the subscriber fan-out -- used to answer a brand new
// REQUEST_NOTIFY subscriber when the attribute is already available.
func (s *Stub) NotifyOk(clientID wire.PartyID, id uint32, encoded []byte) {
	conn, ok := s.Table.FindConnection(clientID)
	if !ok {
		return
	}
	_ = sendDataMessage(conn.Channel, s.ServerID, clientID, wire.CmdDataResponse, uint32(wire.RESULT_DATA_OK), id, wire.InvalidSequenceNr, conn.ProtoMinor, encoded)
}

// NotifyInvalid sends an immediate DATA_INVALID reply for id to clientID
// alone, the REQUEST_NOTIFY counterpart of NotifyOk.
func (s *Stub) NotifyInvalid(clientID wire.PartyID, id uint32) {
	conn, ok := s.Table.FindConnection(clientID)
	if !ok {
		return
	}
	_ = sendDataMessage(conn.Channel, s.ServerID, clientID, wire.CmdDataResponse, uint32(wire.RESULT_DATA_INVALID), id, wire.InvalidSequenceNr, conn.ProtoMinor, nil)
}

// SendNotification fans a DataResponse for id out to every subscriber,
// honoring the active-session set register-session notifications are
// gated by (a plain notification is always active) and dropping any
// one-shot subscriber once it has fired. Mirrors CServer::sendNotification
// and the session-gating half of CServer::sendResponse.
func (s *Stub) SendNotification(id uint32, result wire.ResultType, payload []byte) {
	for _, n := range s.Table.Notifications(id) {
		if !s.Table.IsSessionActive(n.SessionID) {
			continue
		}
		conn, ok := s.Table.FindConnection(n.ClientID)
		if !ok {
			continue
		}
		_ = sendDataMessage(conn.Channel, s.ServerID, n.ClientID, wire.CmdDataResponse, uint32(result), id, n.SequenceNr, conn.ProtoMinor, payload)
		s.Table.RemoveOneShot(n)
	}
}

// HandleDataRequest dispatches one inbound DataRequest per spec.md 4.F's
// REQUEST/REQUEST_NOTIFY/.../REQUEST_STOP_ALL_REGISTER_NOTIFY switch,
// mirroring CServer::handleDataRequest.
func (s *Stub) HandleDataRequest(clientID wire.PartyID, info wire.EventInfo, payload []byte) {
	id := info.RequestID

	switch info.RequestType {
	case wire.REQUEST:
		if s.Table.HasPendingResponse(clientID, id) {
			conn, ok := s.Table.FindConnection(clientID)
			if ok {
				_ = sendDataMessage(conn.Channel, s.ServerID, clientID, wire.CmdDataResponse, uint32(wire.RESULT_REQUEST_BUSY), id, info.SequenceNumber, conn.ProtoMinor, nil)
			}
			return
		}
		s.Table.AddResponsePending(clientID, id, info.SequenceNumber)
		s.BeginRequest(clientID, id, info.SequenceNumber)
		if s.OnRequest != nil {
			s.OnRequest(s, id, payload)
		}
		s.EndRequest()

	case wire.REQUEST_NOTIFY, wire.REQUEST_REGISTER_NOTIFY:
		added, _ := s.Table.AddNotifyIfNew(clientID, id, info.SequenceNumber, info.RequestType == wire.REQUEST_REGISTER_NOTIFY)
		if added && wire.IsAttributeID(id) && s.AttrState != nil {
			switch state, encoded := s.AttrState(id); state {
			case Ok:
				s.NotifyOk(clientID, id, encoded)
			case Invalid:
				s.NotifyInvalid(clientID, id)
			}
		}

	case wire.REQUEST_STOP_NOTIFY, wire.REQUEST_STOP_REGISTER_NOTIFY:
		s.Table.StopNotify(clientID, id)

	case wire.REQUEST_STOP_ALL_NOTIFY:
		s.Table.StopAllNotify(clientID)

	case wire.REQUEST_STOP_ALL_REGISTER_NOTIFY:
		s.Table.StopAllRegisterNotify(clientID, info.SequenceNumber)
	}
}
