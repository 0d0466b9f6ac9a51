package attach

import (
	"net"
	"testing"
	"time"

	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/registry"
	"github.com/dsi-runtime/dsi/internal/registry/registrytest"
	"github.com/dsi-runtime/dsi/internal/wire"
)

func testConfig() config.Config {
	return config.Config{RecvTimeout: 2 * time.Second, SendTimeout: 2 * time.Second}
}

// fakeLocalServer listens at localSocketAddr(0, channelID), accepts one
// connection, reads the ConnectRequest and replies with a ConnectResponse
// carrying peerPID/peerChannelID, standing in for the server side of the
// handshake (pkg/dsi.Engine's acceptOne), which this package cannot import.
func fakeLocalServer(t *testing.T, channelID int32, peerPID, peerChannelID int32) {
	t.Helper()
	addr := localSocketAddr(0, channelID)
	ln, err := net.Listen("unix", addr)
	if err != nil {
		t.Fatalf("listening at %q: %v", addr, err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		ch := channel.WrapLocal(testConfig(), conn)

		hdrBuf := make([]byte, wire.HeaderSize)
		if err := ch.RecvAll(hdrBuf); err != nil {
			return
		}
		d := wire.NewDeserializer(hdrBuf)
		h := wire.DecodeHeader(d)
		body := make([]byte, h.PacketLength)
		if len(body) > 0 {
			if err := ch.RecvAll(body); err != nil {
				return
			}
		}

		s := wire.NewSerializer()
		s.WriteInt32(peerPID)
		s.WriteInt32(peerChannelID)
		info := wire.EventInfo{}
		packets := wire.Fragment(h.ClientID, h.ServerID, wire.CmdConnectResponse, wire.ProtocolVersionMinor, info, false, s.Bytes())
		for _, pkt := range packets {
			ch.SendAll(pkt)
		}
	}()
}

func TestAttachLocalSucceeds(t *testing.T) {
	reg, client := startTestRegistry(t)
	desc := registry.InterfaceDescriptor{Name: "com.example.Ping", Major: 1, Minor: 0}

	serverID, err := client.RegisterInterface(desc, 42, "")
	if err != nil {
		t.Fatalf("RegisterInterface: %v", err)
	}
	_ = serverID

	fakeLocalServer(t, 42, 99, 1)

	sm := New(testConfig(), client, desc, 7, 1, Callbacks{})
	if err := sm.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sm.State() != Connected {
		t.Errorf("state = %v, want Connected", sm.State())
	}
	if sm.Channel() == nil {
		t.Error("expected a non-nil channel after a successful attach")
	}
	_ = reg
}

func TestAttachFailsWhenNoServerRegistered(t *testing.T) {
	_, client := startTestRegistry(t)
	desc := registry.InterfaceDescriptor{Name: "com.example.Nope", Major: 1}

	sm := New(testConfig(), client, desc, 7, 1, Callbacks{})
	err := sm.Attach()
	if err == nil {
		t.Fatal("expected an error attaching an unregistered interface")
	}
	if sm.State() != Failed {
		t.Errorf("state = %v, want Failed", sm.State())
	}
}

func TestAttachInvokesCallbacks(t *testing.T) {
	_, client := startTestRegistry(t)
	desc := registry.InterfaceDescriptor{Name: "com.example.Ping", Major: 1}

	if _, err := client.RegisterInterface(desc, 43, ""); err != nil {
		t.Fatal(err)
	}
	fakeLocalServer(t, 43, 99, 1)

	connected := make(chan struct{}, 1)
	sm := New(testConfig(), client, desc, 7, 1, Callbacks{
		ComponentConnected: func() { connected <- struct{}{} },
	})
	if err := sm.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("ComponentConnected was not invoked")
	}
}

func TestAttachDisconnectedCallbackOnFailure(t *testing.T) {
	_, client := startTestRegistry(t)
	desc := registry.InterfaceDescriptor{Name: "com.example.Nope", Major: 1}

	disconnected := make(chan struct{}, 1)
	sm := New(testConfig(), client, desc, 7, 1, Callbacks{
		ComponentDisconnected: func() { disconnected <- struct{}{} },
	})
	if err := sm.Attach(); err == nil {
		t.Fatal("expected failure")
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("ComponentDisconnected was not invoked")
	}
}

func TestAttachTCPBareLegacyReply(t *testing.T) {
	_, client := startTestRegistry(t)
	desc := registry.InterfaceDescriptor{Name: "com.example.Pong", Major: 1}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	if _, err := client.RegisterInterface(desc, 55, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := client.RegisterInterfaceTCP(desc, "127.0.0.1", tcpAddr.Port); err != nil {
		t.Fatal(err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, wire.HeaderSize+8)
		conn.Read(buf)

		s := wire.NewSerializer()
		s.WriteUint32(0x0100007f) // 127.0.0.1 big-endian packed
		s.WriteUint16(4321)
		conn.Write(s.Bytes())
	}()

	cfg := testConfig()
	cfg.ForceTCP = true
	sm := New(cfg, client, desc, 7, 1, Callbacks{})
	if err := sm.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sm.State() != Connected {
		t.Errorf("state = %v, want Connected", sm.State())
	}
}

// TestAttachTCPFullHeaderLegacyReply exercises the other shape
// handleLegacyOrFullTCPReply distinguishes: a reply that opens with a full
// MessageHeader (magic 0x200 in its Type field) directly followed by the
// peerPID/peerChannelID payload, no EventInfo in between.
func TestAttachTCPFullHeaderLegacyReply(t *testing.T) {
	_, client := startTestRegistry(t)
	desc := registry.InterfaceDescriptor{Name: "com.example.Pong2", Major: 1}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	if _, err := client.RegisterInterface(desc, 56, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := client.RegisterInterfaceTCP(desc, "127.0.0.1", tcpAddr.Port); err != nil {
		t.Fatal(err)
	}

	// Equal to the local runtime's own ProtocolVersionMinor (0, the lowest
	// possible value), so this checks that the negotiated result is
	// min(local, peer) but cannot tell it apart from the local minor alone.
	const peerMinor = uint16(0)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, wire.HeaderSize+8)
		conn.Read(buf)

		h := wire.NewMessageHeader(wire.PartyID{}, wire.PartyID{}, wire.CmdConnectResponse, peerMinor, 8)
		s := wire.NewSerializer()
		wire.EncodeHeader(s, h)
		s.WriteInt32(99) // peer pid
		s.WriteInt32(0)  // peer channel id
		conn.Write(s.Bytes())
	}()

	cfg := testConfig()
	cfg.ForceTCP = true
	sm := New(cfg, client, desc, 7, 1, Callbacks{})
	if err := sm.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sm.State() != Connected {
		t.Errorf("state = %v, want Connected", sm.State())
	}
	if sm.ProtoMinor() != peerMinor {
		t.Errorf("ProtoMinor = %v, want %v negotiated down from local %v", sm.ProtoMinor(), peerMinor, wire.ProtocolVersionMinor)
	}
}

func startTestRegistry(t *testing.T) (*registrytest.Registry, *registry.Client) {
	t.Helper()
	reg, err := registrytest.New("\x00dsi-attach-test")
	if err != nil {
		t.Fatalf("starting test registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	client, err := registry.Dial(reg.Addr())
	if err != nil {
		t.Fatalf("dialing test registry: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return reg, client
}
