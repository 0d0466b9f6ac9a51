package dsi

import (
	"fmt"
	"net"
	"sync"

	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/engine"
	"github.com/dsi-runtime/dsi/internal/registry"
	"github.com/dsi-runtime/dsi/internal/session"
	"github.com/dsi-runtime/dsi/internal/wire"
)

// Direction and IOResult re-export the generic-device types a caller needs
// to use AddGenericDevice without importing internal/engine directly.
type Direction = engine.Direction
type IOResult = engine.IOResult

const (
	DirectionRead  = engine.DirectionRead
	DirectionWrite = engine.DirectionWrite
)

// Engine is the application-facing runtime: one per process, hosting any
// number of client proxies and server stubs over a shared dispatch loop
// and session table. It owns the process's local and TCP acceptor sockets
// and the registry connection every Proxy/Stub it hosts attaches or
// registers through. Grounded on spec.md 4.C/4.G's Engine surface and
// original_source/src/base/CServer.cpp's accept/connect-request handling.
type Engine struct {
	cfg config.Config
	reg *registry.Client
	eng *engine.Engine
	tbl *session.Table
	pid int32

	mu          sync.Mutex
	stubs       map[wire.PartyID]*Stub
	proxies     map[wire.PartyID]*Proxy
	localLn     net.Listener
	localChanID int32
	tcpLn       net.Listener
	tcpPort     int
}

// NewEngine constructs an Engine bound to cfg and reg. pid identifies this
// process in the local socket namespace; callers typically pass
// os.Getpid().
func NewEngine(cfg config.Config, reg *registry.Client, pid int32) *Engine {
	e := &Engine{
		cfg:     cfg,
		reg:     reg,
		eng:     engine.New(cfg),
		tbl:     session.New(),
		pid:     pid,
		stubs:   make(map[wire.PartyID]*Stub),
		proxies: make(map[wire.PartyID]*Proxy),
	}
	e.eng.SetHandler(e.handle)
	return e
}

// Run drains the dispatch loop on the calling goroutine until Stop is
// called, returning the exit code passed to Stop.
func (e *Engine) Run() int { return e.eng.Run() }

// Stop breaks Run's loop with the given exit code. Safe to call from any
// goroutine, including from inside a request or response handler.
func (e *Engine) Stop(exitcode int) { e.eng.Stop(exitcode) }

// Close releases the process's local and TCP acceptor sockets, if either
// was opened. It does not touch already-accepted channels; Stop the
// dispatch loop first to stop serving them.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.localLn != nil {
		err = e.localLn.Close()
		e.localLn = nil
	}
	if e.tcpLn != nil {
		if tcpErr := e.tcpLn.Close(); err == nil {
			err = tcpErr
		}
		e.tcpLn = nil
	}
	return err
}

// AddGenericDevice adds an external file descriptor to the multiplexer;
// handler runs on the dispatch goroutine and returns true to stay armed.
func (e *Engine) AddGenericDevice(fd int, dir Direction, handler func(IOResult) bool) error {
	return e.eng.AddGenericDevice(fd, dir, handler)
}

// RemoveGenericDevice removes fd from the multiplexer.
func (e *Engine) RemoveGenericDevice(fd int) { e.eng.RemoveGenericDevice(fd) }

// ensureLocalListener opens this process's local acceptor socket on first
// use, at \0dsi/<pid>/<channelId>, and starts accepting connections.
func (e *Engine) ensureLocalListener() (channelID int32, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.localLn != nil {
		return e.localChanID, nil
	}
	channelID = e.pid
	addr := fmt.Sprintf("\x00dsi/%d/%d", e.pid, channelID)
	ln, err := net.Listen("unix", addr)
	if err != nil {
		return 0, err
	}
	e.localLn = ln
	e.localChanID = channelID
	go e.acceptLoop(ln, false)
	return channelID, nil
}

// ensureTCPListener opens this process's TCP acceptor on first use, at
// cfg.CommEnginePort (an ephemeral port if zero), and starts accepting
// connections.
func (e *Engine) ensureTCPListener() (port int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tcpLn != nil {
		return e.tcpPort, nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.cfg.CommEnginePort))
	if err != nil {
		return 0, err
	}
	e.tcpLn = ln
	e.tcpPort = ln.Addr().(*net.TCPAddr).Port
	go e.acceptLoop(ln, true)
	return e.tcpPort, nil
}

func (e *Engine) acceptLoop(ln net.Listener, tcp bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go e.acceptOne(conn, tcp)
	}
}

// acceptOne runs the server side of the attach handshake synchronously on
// its own goroutine (mirroring CServer::handleConnectRequest's
// accept-then-reply sequence), then hands the live channel to the engine
// dispatch loop for ordinary traffic.
func (e *Engine) acceptOne(conn net.Conn, tcp bool) {
	var ch channel.Channel
	if tcp {
		ch = channel.WrapTCP(e.cfg, conn)
	} else {
		ch = channel.WrapLocal(e.cfg, conn)
	}

	h, _, err := recvOneMessage(ch)
	if err != nil || h.Cmd != wire.CmdConnectRequest {
		ch.Close()
		return
	}

	e.mu.Lock()
	stub, ok := e.stubs[h.ServerID]
	e.mu.Unlock()
	if !ok {
		ch.Close()
		return
	}

	protoMinor := h.ProtoMinor
	if wire.ProtocolVersionMinor < protoMinor {
		protoMinor = wire.ProtocolVersionMinor
	}

	s := wire.NewSerializer()
	s.WriteInt32(e.pid)
	s.WriteInt32(0) // no separate reverse channel is opened; this transport is bidirectional
	if tcp {
		// Over TCP the ConnectResponse is a bare header followed directly by
		// the payload, with no EventInfo: the full-header shape the attach
		// state machine's TCP reply handling decodes.
		reply := wire.NewSerializer()
		wire.EncodeHeader(reply, wire.NewMessageHeader(h.ServerID, h.ClientID, wire.CmdConnectResponse, protoMinor, uint32(s.Len())))
		err = ch.SendAll(append(reply.Bytes(), s.Bytes()...))
	} else {
		err = sendOneMessage(ch, h.ServerID, h.ClientID, wire.CmdConnectResponse, protoMinor, wire.EventInfo{}, s.Bytes())
	}
	if err != nil {
		ch.Close()
		return
	}

	e.tbl.AddConnection(session.Connection{
		ClientID:   h.ClientID,
		ServerID:   h.ServerID,
		ProtoMinor: protoMinor,
		Channel:    ch,
	})
	e.eng.AddChannel(ch)
	if stub.OnConnect != nil {
		stub.OnConnect(h.ClientID)
	}
}

// AddServer registers desc with the registry over the local transport and
// returns a Stub ready to have its OnRequest/AttrState hooks filled in.
func (e *Engine) AddServer(desc registry.InterfaceDescriptor, userGroup string) (*Stub, error) {
	channelID, err := e.ensureLocalListener()
	if err != nil {
		return nil, err
	}
	serverID, err := e.reg.RegisterInterface(desc, channelID, userGroup)
	if err != nil {
		return nil, err
	}
	return e.addStub(serverID), nil
}

// AddServerTCP registers desc with the registry over TCP and returns a
// Stub ready to have its OnRequest/AttrState hooks filled in.
func (e *Engine) AddServerTCP(desc registry.InterfaceDescriptor) (*Stub, error) {
	port, err := e.ensureTCPListener()
	if err != nil {
		return nil, err
	}
	serverID, err := e.reg.RegisterInterfaceTCP(desc, e.cfg.IPAddress, port)
	if err != nil {
		return nil, err
	}
	return e.addStub(serverID), nil
}

func (e *Engine) addStub(serverID wire.PartyID) *Stub {
	stub := NewStub(serverID, e.tbl)
	e.mu.Lock()
	e.stubs[serverID] = stub
	e.mu.Unlock()
	return stub
}

// RemoveServer unregisters serverID from the registry and stops routing
// DataRequests to it.
func (e *Engine) RemoveServer(serverID wire.PartyID) error {
	e.mu.Lock()
	delete(e.stubs, serverID)
	e.mu.Unlock()
	return e.reg.UnregisterInterface(serverID)
}

// AddClient constructs a Proxy for desc, attached through this Engine. The
// caller must still call Attach on the returned Proxy.
func (e *Engine) AddClient(desc registry.InterfaceDescriptor, callbacks Callbacks) *Proxy {
	return newProxy(e, desc, callbacks)
}

// RemoveClient detaches and forgets proxy.
func (e *Engine) RemoveClient(p *Proxy) {
	e.mu.Lock()
	delete(e.proxies, p.clientID)
	e.mu.Unlock()
	p.detach()
}

func (e *Engine) registerProxy(clientID wire.PartyID, p *Proxy) {
	e.mu.Lock()
	e.proxies[clientID] = p
	e.mu.Unlock()
	e.eng.AddChannel(p.channel())
}

func (e *Engine) handle(msg engine.Message) {
	switch msg.Header.Cmd {
	case wire.CmdDataRequest:
		e.mu.Lock()
		stub, ok := e.stubs[msg.Header.ServerID]
		e.mu.Unlock()
		if ok {
			stub.HandleDataRequest(msg.Header.ClientID, msg.Info, msg.Payload)
		}

	case wire.CmdDataResponse:
		e.mu.Lock()
		proxy, ok := e.proxies[msg.Header.ClientID]
		e.mu.Unlock()
		if ok {
			proxy.handleResponse(msg.Info, msg.Payload)
		}

	case wire.CmdDisconnectRequest:
		e.handleDisconnect(msg.Header)
	}
}

func (e *Engine) handleDisconnect(h wire.MessageHeader) {
	if conn, ok := e.tbl.RemoveConnection(h.ClientID); ok {
		e.eng.RemoveChannel(conn.Channel)
		e.mu.Lock()
		stub, ok := e.stubs[h.ServerID]
		e.mu.Unlock()
		if ok && stub.OnDisconnect != nil {
			stub.OnDisconnect(h.ClientID)
		}
	}
}

// recvOneMessage reads exactly one (possibly fragmented) message from ch,
// shared by the server-side accept handshake.
func recvOneMessage(ch channel.Channel) (wire.MessageHeader, []byte, error) {
	r := wire.NewReassembler()
	for {
		hdrBuf := make([]byte, wire.HeaderSize)
		if err := ch.RecvAll(hdrBuf); err != nil {
			return wire.MessageHeader{}, nil, err
		}
		d := wire.NewDeserializer(hdrBuf)
		h := wire.DecodeHeader(d)
		if d.Err() != nil {
			return wire.MessageHeader{}, nil, d.Err()
		}
		body := make([]byte, h.PacketLength)
		if len(body) > 0 {
			if err := ch.RecvAll(body); err != nil {
				return wire.MessageHeader{}, nil, err
			}
		}
		done, err := r.Feed(h, body)
		if err != nil {
			return wire.MessageHeader{}, nil, err
		}
		if done {
			return r.Header(), r.Payload(), nil
		}
	}
}

func sendOneMessage(ch channel.Channel, serverID, clientID wire.PartyID, cmd wire.Command, protoMinor uint16, info wire.EventInfo, payload []byte) error {
	for _, pkt := range wire.Fragment(serverID, clientID, cmd, protoMinor, info, cmd == wire.CmdDataResponse, payload) {
		if err := ch.SendAll(pkt); err != nil {
			return err
		}
	}
	return nil
}
