// Package session implements the server-side connection registry and
// notification bookkeeping of spec.md 4.F: client connections, per-request
// notifications, register-sessions, the active-session set used for
// information emission, and the unblock/prepareResponse continuation
// mechanism. Grounded on original_source/src/base/CServer.cpp's
// ClientConnection/Notification/SessionData/mUnblockedSessions machinery,
// adapted from CServer's single-server fields into a Table any number of
// stub instances in one engine can share.
package session

import (
	"sync"

	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/wire"
)

// InvalidSessionID mirrors DSI::INVALID_SESSION_ID, used both for a
// register-session id and (overloaded, as the original does) for a plain
// notification's sessionId field.
const InvalidSessionID int32 = wire.InvalidSessionID

// Connection is one attached client's persistent state, keyed by ClientID.
type Connection struct {
	ClientID               wire.PartyID
	ServerID               wire.PartyID
	ProtoMinor              uint16
	Channel                 channel.Channel
	RegistryNotificationID int64
}

// Notification is one (clientID, notifyID) subscription: a pending request
// response, an attribute subscriber, or a register-session member. SessionID
// is InvalidSessionID for plain (unkeyed) notifications.
type Notification struct {
	ClientID   wire.PartyID
	NotifyID   uint32
	SequenceNr int32
	SessionID  int32
}

// registerSession groups notifications a client opened with REQUEST_REGISTER_NOTIFY
// under one server-chosen id, keyed by (ClientID, ClientSequenceNr).
type registerSession struct {
	SessionID     int32
	ClientID      wire.PartyID
	ClientSeqNr   int32
}

// Table holds every piece of server-side bookkeeping one engine's stubs
// share. The zero value is not usable; construct with New.
type Table struct {
	mu sync.Mutex

	connections map[wire.PartyID]*Connection

	notifications []Notification
	sessions      []registerSession
	active        map[int32]struct{}
	unblocked     map[int32]Notification

	nextSessionID int32
	nextHandle    int32
}

// New constructs an empty Table.
func New() *Table {
	return &Table{
		connections: make(map[wire.PartyID]*Connection),
		active:      make(map[int32]struct{}),
		unblocked:   make(map[int32]Notification),
	}
}

// AddConnection registers a newly connected client.
func (t *Table) AddConnection(c Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn := c
	t.connections[c.ClientID] = &conn
}

// FindConnection looks up a client's connection state.
func (t *Table) FindConnection(clientID wire.PartyID) (Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.connections[clientID]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// RemoveConnection implements the Disconnect sequence of spec.md 4.F:
// erase the connection and every notification, register-session, and
// unblocked handle belonging to clientID. Returns the removed connection
// so the caller can clear its registry subscription and close its channel.
func (t *Table) RemoveConnection(clientID wire.PartyID) (Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.connections[clientID]
	if !ok {
		return Connection{}, false
	}
	delete(t.connections, clientID)

	t.notifications = filterNotifications(t.notifications, func(n Notification) bool {
		return n.ClientID != clientID
	})
	t.sessions = filterSessions(t.sessions, func(s registerSession) bool {
		return s.ClientID != clientID
	})
	for handle, n := range t.unblocked {
		if n.ClientID == clientID {
			delete(t.unblocked, handle)
		}
	}

	return *conn, true
}

// HasPendingResponse reports whether a response notification for
// (clientID, notifyID) is still outstanding -- neither sent nor unblocked.
// A plain REQUEST whose prior invocation is still pending must be answered
// with RESULT_REQUEST_BUSY instead of being dispatched to user code again.
func (t *Table) HasPendingResponse(clientID wire.PartyID, notifyID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.notifications {
		if n.ClientID == clientID && n.NotifyID == notifyID && n.SessionID == InvalidSessionID {
			return true
		}
	}
	return false
}

// AddResponsePending records the notification that tracks one outstanding
// plain REQUEST's response.
func (t *Table) AddResponsePending(clientID wire.PartyID, notifyID uint32, seqNr int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications = append(t.notifications, Notification{
		ClientID: clientID, NotifyID: notifyID, SequenceNr: seqNr, SessionID: InvalidSessionID,
	})
}

// CompleteResponse removes the pending-response notification for
// (clientID, notifyID) once the user has emitted (or errored) the
// response.
func (t *Table) CompleteResponse(clientID wire.PartyID, notifyID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications = filterNotifications(t.notifications, func(n Notification) bool {
		return !(n.ClientID == clientID && n.NotifyID == notifyID && n.SessionID == InvalidSessionID)
	})
}

// Unblock moves the current pending-response notification for
// (clientID, notifyID) into the unblocked-sessions map and returns a fresh
// handle, implementing CServer::unblockRequest.
func (t *Table) Unblock(clientID wire.PartyID, notifyID uint32) (handle int32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.notifications) - 1; i >= 0; i-- {
		n := t.notifications[i]
		if n.ClientID == clientID && n.NotifyID == notifyID && n.SessionID == InvalidSessionID {
			t.nextHandle++
			handle = t.nextHandle
			t.unblocked[handle] = n
			t.notifications = append(t.notifications[:i], t.notifications[i+1:]...)
			return handle, true
		}
	}
	return 0, false
}

// PrepareResponse restores a previously unblocked notification as pending
// again, implementing CServer::prepareResponse.
func (t *Table) PrepareResponse(handle int32) (Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.unblocked[handle]
	if !ok {
		return Notification{}, false
	}
	delete(t.unblocked, handle)
	t.notifications = append(t.notifications, n)
	return n, true
}

// AddNotifyIfNew implements the REQUEST_NOTIFY/REQUEST_REGISTER_NOTIFY
// dedup-or-create rule: a plain notify is deduped on (clientID, notifyID);
// a register-notify is additionally deduped on sequenceNr, and creates or
// reuses a register-session keyed by (clientID, sequenceNr). Returns
// whether a new notification was added and, for register-notify, the
// session id it was assigned.
func (t *Table) AddNotifyIfNew(clientID wire.PartyID, notifyID uint32, seqNr int32, registerNotify bool) (added bool, sessionID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, n := range t.notifications {
		if n.ClientID == clientID && n.NotifyID == notifyID {
			if !registerNotify || n.SequenceNr == seqNr {
				return false, n.SessionID
			}
		}
	}

	sessionID = InvalidSessionID
	if registerNotify {
		sessionID = t.findOrCreateSessionLocked(clientID, seqNr)
	}
	t.notifications = append(t.notifications, Notification{
		ClientID: clientID, NotifyID: notifyID, SequenceNr: seqNr, SessionID: sessionID,
	})
	return true, sessionID
}

func (t *Table) findOrCreateSessionLocked(clientID wire.PartyID, seqNr int32) int32 {
	for i := len(t.sessions) - 1; i >= 0; i-- {
		if t.sessions[i].ClientID == clientID && t.sessions[i].ClientSeqNr == seqNr {
			return t.sessions[i].SessionID
		}
	}
	t.nextSessionID++
	id := t.nextSessionID
	t.sessions = append(t.sessions, registerSession{SessionID: id, ClientID: clientID, ClientSeqNr: seqNr})
	return id
}

// StopNotify removes notifications matching (clientID, notifyID), used for
// REQUEST_STOP_NOTIFY and REQUEST_STOP_REGISTER_NOTIFY.
func (t *Table) StopNotify(clientID wire.PartyID, notifyID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications = filterNotifications(t.notifications, func(n Notification) bool {
		return !(n.ClientID == clientID && n.NotifyID == notifyID)
	})
}

// StopAllNotify removes every notification belonging to clientID, used for
// REQUEST_STOP_ALL_NOTIFY.
func (t *Table) StopAllNotify(clientID wire.PartyID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications = filterNotifications(t.notifications, func(n Notification) bool {
		return n.ClientID != clientID
	})
}

// StopAllRegisterNotify removes every register-session matching
// (clientID, clientSeqNr) and all of their notifications. This is the
// redesigned behavior from spec.md's open question: the original C++ only
// ever removed the most recently created matching session (findSession
// returns a single match via reverse search), silently leaving older
// sessions with the same key alive; this implementation removes all of
// them.
func (t *Table) StopAllRegisterNotify(clientID wire.PartyID, clientSeqNr int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var toRemove []int32
	t.sessions = filterSessions(t.sessions, func(s registerSession) bool {
		if s.ClientID == clientID && s.ClientSeqNr == clientSeqNr {
			toRemove = append(toRemove, s.SessionID)
			return false
		}
		return true
	})
	if len(toRemove) == 0 {
		return
	}
	removeSet := make(map[int32]struct{}, len(toRemove))
	for _, id := range toRemove {
		removeSet[id] = struct{}{}
	}
	t.notifications = filterNotifications(t.notifications, func(n Notification) bool {
		_, match := removeSet[n.SessionID]
		return !match
	})
}

// Notifications returns every notification currently subscribed to
// notifyID, used to fan out an attribute change or a plain information.
func (t *Table) Notifications(notifyID uint32) []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Notification
	for _, n := range t.notifications {
		if n.NotifyID == notifyID {
			out = append(out, n)
		}
	}
	return out
}

// RemoveOneShot drops a one-shot notification (nonzero sequence number, no
// session) after it has fired, per spec.md 4.F's information-emission
// rule.
func (t *Table) RemoveOneShot(n Notification) {
	if n.SequenceNr == wire.InvalidSequenceNr || n.SessionID != InvalidSessionID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications = filterNotifications(t.notifications, func(other Notification) bool {
		return !(other.ClientID == n.ClientID && other.NotifyID == n.NotifyID && other.SequenceNr == n.SequenceNr && other.SessionID == n.SessionID)
	})
}

// AddActiveSession marks sessionID as a recipient of the information
// emission currently in progress.
func (t *Table) AddActiveSession(sessionID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[sessionID] = struct{}{}
}

// ClearActiveSessions empties the active-session set after an emission.
func (t *Table) ClearActiveSessions() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[int32]struct{})
}

// IsSessionActive reports whether sessionID was marked active for the
// current information emission. A plain (unkeyed) notification always
// counts as active.
func (t *Table) IsSessionActive(sessionID int32) bool {
	if sessionID == InvalidSessionID {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[sessionID]
	return ok
}

// FindSession looks up the register-session for (clientID, seqNr).
func (t *Table) FindSession(clientID wire.PartyID, seqNr int32) (int32, bool) {
	if seqNr == wire.InvalidSequenceNr {
		return InvalidSessionID, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sessions) - 1; i >= 0; i-- {
		if t.sessions[i].ClientID == clientID && t.sessions[i].ClientSeqNr == seqNr {
			return t.sessions[i].SessionID, true
		}
	}
	return InvalidSessionID, false
}

func filterNotifications(in []Notification, keep func(Notification) bool) []Notification {
	out := in[:0]
	for _, n := range in {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func filterSessions(in []registerSession, keep func(registerSession) bool) []registerSession {
	out := in[:0]
	for _, s := range in {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
