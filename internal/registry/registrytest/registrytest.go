// Package registrytest is an in-process reference implementation of the
// registry daemon, for use by the tests of internal/registry,
// internal/attach and pkg/dsi. It speaks the exact wire protocol
// internal/registry.Client dials, accept-loop-per-connection in the style
// of cmd/minimega/command_socket.go, but its bookkeeping is a plain
// in-memory map rather than anything production-grade -- the real registry
// is an external collaborator (spec.md 1) this package only stands in for.
package registrytest

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/dsi-runtime/dsi/internal/wire"
)

type op string

const (
	opRegisterInterface         op = "registerInterface"
	opRegisterInterfaceTCP      op = "registerInterfaceTCP"
	opAttachInterface           op = "attachInterface"
	opAttachInterfaceTCP        op = "attachInterfaceTCP"
	opSetServerAvailableNotify  op = "setServerAvailableNotification"
	opSetServerDisconnectNotify op = "setServerDisconnectNotification"
	opSetClientDetachNotify     op = "setClientDetachNotification"
	opClearNotification         op = "clearNotification"
	opDetachInterface           op = "detachInterface"
	opUnregisterInterface       op = "unregisterInterface"
)

type request struct {
	Op   op              `json:"op"`
	Args json.RawMessage `json:"args"`
}

type response struct {
	Err    string      `json:"err,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type descKey struct {
	Name  string
	Major uint16
	Minor uint16
}

type localRegistration struct {
	serverID  wire.PartyID
	channelID int32
}

type tcpRegistration struct {
	serverID wire.PartyID
	ip       string
	port     int
}

// Registry is an in-process name registry. The zero value is not usable;
// construct with New.
type Registry struct {
	mu sync.Mutex

	nextID uint32

	local map[descKey]localRegistration
	tcp   map[descKey]tcpRegistration

	// availableWaiters is allocated by New but not otherwise read or
	// written: no registration is ever reported as newly available, and no
	// pulse is delivered.
	availableWaiters map[descKey][]chan struct{}

	listener net.Listener
}

// New starts a Registry listening on an abstract-namespace unix socket at
// addr and returns it along with that address.
func New(addr string) (*Registry, error) {
	ln, err := net.Listen("unix", addr)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		local:            make(map[descKey]localRegistration),
		tcp:              make(map[descKey]tcpRegistration),
		availableWaiters: make(map[descKey][]chan struct{}),
		listener:         ln,
	}
	go r.acceptLoop()
	return r, nil
}

// Addr returns the registry's listen address.
func (r *Registry) Addr() string {
	return r.listener.Addr().String()
}

// Close stops accepting new connections.
func (r *Registry) Close() error {
	return r.listener.Close()
}

func (r *Registry) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		go r.serve(conn)
	}
}

func (r *Registry) serve(conn net.Conn) {
	defer conn.Close()
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := r.handle(req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (r *Registry) handle(req request) response {
	switch req.Op {
	case opRegisterInterface:
		var args struct {
			Desc      descKey
			ChannelID int32
			UserGroup string
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(err)
		}
		r.mu.Lock()
		r.nextID++
		id := wire.PartyID{Extended: 1, Local: r.nextID}
		r.local[args.Desc] = localRegistration{serverID: id, channelID: args.ChannelID}
		r.mu.Unlock()
		return response{Result: id}

	case opRegisterInterfaceTCP:
		var args struct {
			Desc descKey
			IP   string
			Port int
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(err)
		}
		r.mu.Lock()
		r.nextID++
		id := wire.PartyID{Extended: 2, Local: r.nextID}
		r.tcp[args.Desc] = tcpRegistration{serverID: id, ip: args.IP, port: args.Port}
		r.mu.Unlock()
		return response{Result: id}

	case opAttachInterface:
		var desc descKey
		if err := json.Unmarshal(req.Args, &desc); err != nil {
			return errResponse(err)
		}
		r.mu.Lock()
		reg, ok := r.local[desc]
		r.mu.Unlock()
		if !ok {
			return errResponse(fmt.Errorf("no server registered for %+v", desc))
		}
		return response{Result: map[string]interface{}{
			"ClientID":        wire.PartyID{Extended: 1, Local: 0},
			"ServerPID":       0,
			"ServerChannelID": reg.channelID,
			"ServerID":        reg.serverID,
			"RemoteNodeID":    0,
		}}

	case opAttachInterfaceTCP:
		var desc descKey
		if err := json.Unmarshal(req.Args, &desc); err != nil {
			return errResponse(err)
		}
		r.mu.Lock()
		reg, ok := r.tcp[desc]
		r.mu.Unlock()
		if !ok {
			return errResponse(fmt.Errorf("no TCP server registered for %+v", desc))
		}
		return response{Result: map[string]interface{}{
			"ClientID": wire.PartyID{Extended: 2, Local: 0},
			"ServerID": reg.serverID,
			"IP":       reg.ip,
			"Port":     reg.port,
		}}

	case opSetServerAvailableNotify, opSetServerDisconnectNotify, opSetClientDetachNotify:
		// The test registry doesn't push asynchronous pulses over a
		// separate socket; it only hands back a fresh notification id.
		r.mu.Lock()
		r.nextID++
		id := r.nextID
		r.mu.Unlock()
		return response{Result: id}

	case opClearNotification, opDetachInterface, opUnregisterInterface:
		return response{}

	default:
		return errResponse(fmt.Errorf("registrytest: unknown op %q", req.Op))
	}
}

func errResponse(err error) response {
	return response{Err: err.Error()}
}
