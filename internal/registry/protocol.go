// Package registry implements the client side of the DSI name registry
// protocol: the small set of RPCs an engine uses to register/attach
// service interfaces and to arm availability/disconnect/detach
// notifications, plus the Pulse type naming the notifications the registry
// daemon delivers asynchronously. Nothing in this package receives or
// decodes pulses. The registry daemon itself is an
// external collaborator (spec.md 1's explicit non-goal); this package only
// speaks its contracted interface.
package registry

import (
	"encoding/json"

	"github.com/dsi-runtime/dsi/internal/wire"
)

// InterfaceDescriptor names a versioned service interface. Major must
// match exactly between client and server; Minor negotiates to the lower
// of the two.
type InterfaceDescriptor struct {
	Name  string
	Major uint16
	Minor uint16
}

// ConnectionInfo is returned by attachInterface for a local attach.
type ConnectionInfo struct {
	ClientID        wire.PartyID
	ServerPID       int32
	ServerChannelID int32
	ServerID        wire.PartyID
	RemoteNodeID    int32
}

// TCPConnectionInfo is returned by attachInterface's TCP variant.
type TCPConnectionInfo struct {
	ClientID wire.PartyID
	ServerID wire.PartyID
	IP       string
	Port     int
}

// PulseCode identifies the kind of asynchronous notification the registry
// delivers to an engine's notification acceptor.
type PulseCode int

const (
	PulseServerAvailable PulseCode = 100
	PulseServerDisconnect PulseCode = 101
	PulseClientDetached   PulseCode = 102
)

// Pulse is one asynchronous registry notification: its kind and its value.
type Pulse struct {
	Code  PulseCode
	Value int64
}

// op identifies which registry RPC a Request carries. The wire envelope is
// a single polymorphic JSON object per op, mirroring
// pkg/miniclient.Conn's Request/Response pair rather than one Go type per
// RPC -- appropriate here since, unlike miniclient's single command
// verb, the registry exposes a dozen distinct operations over one
// connection.
type op string

const (
	opRegisterInterface            op = "registerInterface"
	opRegisterInterfaceTCP         op = "registerInterfaceTCP"
	opAttachInterface              op = "attachInterface"
	opAttachInterfaceTCP           op = "attachInterfaceTCP"
	opSetServerAvailableNotify     op = "setServerAvailableNotification"
	opSetServerDisconnectNotify    op = "setServerDisconnectNotification"
	opSetClientDetachNotify        op = "setClientDetachNotification"
	opClearNotification            op = "clearNotification"
	opDetachInterface               op = "detachInterface"
	opUnregisterInterface           op = "unregisterInterface"
)

// request is the wire envelope sent to the registry daemon.
type request struct {
	Op   op          `json:"op"`
	Args interface{} `json:"args"`
}

// response is the wire envelope the registry daemon replies with.
type response struct {
	Err    string          `json:"err,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}
