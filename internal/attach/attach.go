// Package attach implements the client-side attach state machine: after
// Attach returns, the caller holds a working channel to the server or has
// been told attachment failed. Grounded on
// original_source/src/base/CClientConnectSM.cpp, whose methods
// (attach/initiateConnectRequest/initiateConnectRequestTCP/onFailure) map
// one-to-one onto StateMachine's methods; the C++ object's implicit state
// (which branch of "if (mChannel)" execution is in) becomes the explicit
// State field here.
package attach

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/registry"
	"github.com/dsi-runtime/dsi/internal/wire"
)

// State is one step of the attach state machine.
type State int

const (
	Idle State = iota
	AttachingLocal
	AttachingTCP
	SentConnectRequest
	AwaitingConnectResponse
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AttachingLocal:
		return "AttachingLocal"
	case AttachingTCP:
		return "AttachingTCP"
	case SentConnectRequest:
		return "SentConnectRequest"
	case AwaitingConnectResponse:
		return "AwaitingConnectResponse"
	case Connected:
		return "Connected"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Callbacks notify the owning proxy of attach completion, mirroring the
// user-supplied componentConnected/componentDisconnected hooks of
// spec.md 4.E.
type Callbacks struct {
	ComponentConnected    func()
	ComponentDisconnected func()
}

// ConnectRequestInfo is the local-transport ConnectRequest payload.
type ConnectRequestInfo struct {
	PID       int32
	ChannelID int32
}

// TCPConnectRequestInfo is the TCP-transport ConnectRequest/ConnectResponse
// payload. A value whose IPAddress equals wire.MessageMagic signals the
// legacy full-header reply shape (spec.md 4.E.5).
type TCPConnectRequestInfo struct {
	IPAddress uint32
	Port      uint16
}

// StateMachine drives one client's attach attempt for a single interface.
type StateMachine struct {
	cfg       config.Config
	reg       *registry.Client
	desc      registry.InterfaceDescriptor
	callbacks Callbacks

	localPID       int32
	localChannelID int32

	state      State
	clientID   wire.PartyID
	serverID   wire.PartyID
	protoMinor uint16
	channel    channel.Channel
}

// New constructs a StateMachine for desc. localPID and localChannelID
// identify this engine's own local acceptor, sent to the server in a local
// ConnectRequest so it can open its persistent reverse channel.
func New(cfg config.Config, reg *registry.Client, desc registry.InterfaceDescriptor, localPID, localChannelID int32, callbacks Callbacks) *StateMachine {
	return &StateMachine{
		cfg:            cfg,
		reg:            reg,
		desc:           desc,
		callbacks:      callbacks,
		localPID:       localPID,
		localChannelID: localChannelID,
		state:          Idle,
	}
}

func (sm *StateMachine) State() State            { return sm.state }
func (sm *StateMachine) ClientID() wire.PartyID   { return sm.clientID }
func (sm *StateMachine) ServerID() wire.PartyID   { return sm.serverID }
func (sm *StateMachine) ProtoMinor() uint16       { return sm.protoMinor }
func (sm *StateMachine) Channel() channel.Channel { return sm.channel }

// localSocketAddr builds the abstract-namespace path of a local acceptor
// socket: `\0dsi/<pid>/<channelId>`, where channelId is the fd of the
// server's local-acceptor socket at registration time.
func localSocketAddr(pid, channelID int32) string {
	return fmt.Sprintf("\x00dsi/%d/%d", pid, channelID)
}

// ipToUint32 packs a dotted-quad IPv4 address into the single uint32 the
// wire ConnectRequest payload carries. A non-IPv4 address encodes as 0.
func ipToUint32(ip string) uint32 {
	addr := net.ParseIP(ip)
	if addr == nil {
		return 0
	}
	v4 := addr.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

// Attach runs the full state machine to completion, blocking on the
// registry lookup, the transport connect, and (for local transport) the
// synchronous ConnectResponse. It returns an error only if every transport
// the registry offered failed; Callbacks report the resulting connected or
// disconnected state either way.
func (sm *StateMachine) Attach() error {
	info, err := sm.reg.AttachInterface(sm.desc)
	if err != nil {
		return sm.fail(fmt.Errorf("attach: registry lookup: %w", err))
	}
	sm.clientID = info.ClientID
	sm.serverID = info.ServerID

	if sm.cfg.ForceTCP || info.RemoteNodeID != 0 {
		sm.state = AttachingTCP
		if sm.attachTCP() {
			return nil
		}
	}

	if sm.channel == nil && info.RemoteNodeID == 0 {
		sm.state = AttachingLocal
		if sm.attachLocal(info) {
			return nil
		}
	}

	return sm.fail(fmt.Errorf("attach: no usable transport for %s", sm.desc.Name))
}

func (sm *StateMachine) attachLocal(info registry.ConnectionInfo) bool {
	addr := localSocketAddr(info.ServerPID, info.ServerChannelID)
	ch, err := channel.DialLocal(sm.cfg, addr)
	if err != nil {
		return false
	}
	sm.channel = ch
	return sm.initiateConnectRequest()
}

// initiateConnectRequest sends a local ConnectRequest and, per spec.md
// 4.E.4, reads the reply synchronously since a local transport's server
// replies on the same channel before doing anything else.
func (sm *StateMachine) initiateConnectRequest() bool {
	s := wire.NewSerializer()
	s.WriteInt32(sm.localPID)
	s.WriteInt32(sm.localChannelID)

	info := wire.EventInfo{}
	sm.state = SentConnectRequest
	if err := sendMessage(sm.channel, sm.serverID, sm.clientID, wire.CmdConnectRequest, wire.ProtocolVersionMinor, info, false, s.Bytes()); err != nil {
		return false
	}

	sm.state = AwaitingConnectResponse
	resp, err := recvMessage(sm.channel)
	if err != nil {
		return false
	}
	return sm.handleConnectResponse(resp.Header, resp.Payload)
}

func (sm *StateMachine) attachTCP() bool {
	info, err := sm.reg.AttachInterfaceTCP(sm.desc)
	if err != nil {
		return false
	}
	sm.clientID = info.ClientID
	sm.serverID = info.ServerID

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", info.IP, info.Port))
	if err != nil {
		return false
	}

	// The handshake reads asymmetrically (spec.md 4.E.4), so it runs over
	// the transient connectReader kind; once the ConnectResponse confirms
	// the server, the same net.Conn is re-wrapped as the persistent
	// tcpChannel the proxy keeps using afterward.
	sm.channel = channel.NewConnectReader(sm.cfg, conn)
	if !sm.initiateConnectRequestTCP(info) {
		conn.Close()
		sm.channel = nil
		return false
	}
	sm.channel = channel.WrapTCP(sm.cfg, conn)
	return true
}

func (sm *StateMachine) initiateConnectRequestTCP(info registry.TCPConnectionInfo) bool {
	s := wire.NewSerializer()
	s.WriteUint32(ipToUint32(info.IP))
	s.WriteUint16(uint16(info.Port))

	sm.state = SentConnectRequest
	eventInfo := wire.EventInfo{}
	if err := sendMessage(sm.channel, sm.serverID, sm.clientID, wire.CmdConnectRequest, wire.ProtocolVersionMinor, eventInfo, false, s.Bytes()); err != nil {
		return false
	}

	sm.state = AwaitingConnectResponse
	reader, ok := sm.channel.(channel.AsyncReadInitiator)
	if !ok {
		return false
	}

	doneCh := make(chan bool, 1)
	reader.InitiateConnectRead(func(data []byte, err error) {
		if err != nil {
			doneCh <- false
			return
		}
		doneCh <- sm.handleLegacyOrFullTCPReply(data)
	})
	return <-doneCh
}

// handleLegacyOrFullTCPReply distinguishes the two shapes spec.md 4.E.5
// describes by the first 4 bytes.
func (sm *StateMachine) handleLegacyOrFullTCPReply(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	d := wire.NewDeserializer(data)
	magic := d.ReadUint32()
	if magic == wire.MessageMagic {
		// The magic is the header's own Type field at offset 0, aliasing the
		// bare shape's ipAddress; decode the whole header from data[0:], not
		// past the 4 bytes already peeked at.
		rest := wire.NewDeserializer(data)
		h := wire.DecodeHeader(rest)
		if rest.Err() != nil {
			return false
		}
		return sm.handleConnectResponse(h, data[wire.HeaderSize:])
	}

	// bare TCPConnectRequestInfo{ip, port} shape, no header: the peer's
	// connect-response carries no protocol header at all, so negotiation
	// falls back to this runtime's own minor version.
	bare := wire.NewDeserializer(data)
	ip := bare.ReadUint32()
	_ = bare.ReadUint16()
	if bare.Err() != nil || ip == 0 {
		return false
	}
	sm.protoMinor = wire.ProtocolVersionMinor
	return sm.finalize()
}

func (sm *StateMachine) handleConnectResponse(h wire.MessageHeader, payload []byte) bool {
	if h.Cmd != wire.CmdConnectResponse {
		return false
	}
	d := wire.NewDeserializer(payload)
	peerPID := d.ReadInt32()
	_ = d.ReadInt32() // peer's channel id: this transport shares one bidirectional channel, so no separate reverse connection is opened
	if d.Err() != nil || peerPID == 0 {
		return false
	}

	local := wire.ProtocolVersionMinor
	peer := h.ProtoMinor
	if peer < local {
		sm.protoMinor = peer
	} else {
		sm.protoMinor = local
	}
	return sm.finalize()
}

func (sm *StateMachine) finalize() bool {
	sm.state = Connected
	if sm.callbacks.ComponentConnected != nil {
		sm.callbacks.ComponentConnected()
	}
	return true
}

func (sm *StateMachine) fail(err error) error {
	sm.state = Failed
	if !sm.clientID.IsZero() {
		_ = sm.reg.DetachInterface(sm.clientID)
	}
	sm.clientID = wire.PartyID{}
	if sm.channel != nil {
		sm.channel.Close()
		sm.channel = nil
	}
	if sm.callbacks.ComponentDisconnected != nil {
		sm.callbacks.ComponentDisconnected()
	}
	return err
}

func sendMessage(ch channel.Channel, serverID, clientID wire.PartyID, cmd wire.Command, protoMinor uint16, info wire.EventInfo, resultSide bool, payload []byte) error {
	for _, pkt := range wire.Fragment(serverID, clientID, cmd, protoMinor, info, resultSide, payload) {
		if err := ch.SendAll(pkt); err != nil {
			return err
		}
	}
	return nil
}

type recvdMessage struct {
	Header  wire.MessageHeader
	Payload []byte
}

func recvMessage(ch channel.Channel) (*recvdMessage, error) {
	r := wire.NewReassembler()
	for {
		hdrBuf := make([]byte, wire.HeaderSize)
		if err := ch.RecvAll(hdrBuf); err != nil {
			return nil, err
		}
		d := wire.NewDeserializer(hdrBuf)
		h := wire.DecodeHeader(d)
		if d.Err() != nil {
			return nil, d.Err()
		}
		body := make([]byte, h.PacketLength)
		if len(body) > 0 {
			if err := ch.RecvAll(body); err != nil {
				return nil, err
			}
		}
		done, err := r.Feed(h, body)
		if err != nil {
			return nil, err
		}
		if done {
			return &recvdMessage{Header: r.Header(), Payload: r.Payload()}, nil
		}
	}
}
