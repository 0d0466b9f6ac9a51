package registry

import (
	"testing"

	"github.com/dsi-runtime/dsi/internal/registry/registrytest"
)

func startTestRegistry(t *testing.T) (*registrytest.Registry, *Client) {
	t.Helper()
	reg, err := registrytest.New("\x00dsi-registry-test")
	if err != nil {
		t.Fatalf("starting test registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	client, err := Dial(reg.Addr())
	if err != nil {
		t.Fatalf("dialing test registry: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return reg, client
}

func TestRegisterThenAttachInterface(t *testing.T) {
	_, client := startTestRegistry(t)

	desc := InterfaceDescriptor{Name: "com.example.Ping", Major: 1, Minor: 2}
	serverID, err := client.RegisterInterface(desc, 7, "")
	if err != nil {
		t.Fatalf("RegisterInterface: %v", err)
	}
	if serverID.IsZero() {
		t.Fatal("expected non-zero serverID")
	}

	info, err := client.AttachInterface(desc)
	if err != nil {
		t.Fatalf("AttachInterface: %v", err)
	}
	if info.ServerID != serverID {
		t.Errorf("ServerID = %+v, want %+v", info.ServerID, serverID)
	}
	if info.ServerChannelID != 7 {
		t.Errorf("ServerChannelID = %d, want 7", info.ServerChannelID)
	}
}

func TestAttachUnregisteredInterfaceFails(t *testing.T) {
	_, client := startTestRegistry(t)

	_, err := client.AttachInterface(InterfaceDescriptor{Name: "com.example.Nope", Major: 1})
	if err == nil {
		t.Fatal("expected an error attaching an interface no server registered")
	}
}

func TestRegisterThenAttachInterfaceTCP(t *testing.T) {
	_, client := startTestRegistry(t)

	desc := InterfaceDescriptor{Name: "com.example.Pong", Major: 3, Minor: 0}
	serverID, err := client.RegisterInterfaceTCP(desc, "10.0.0.5", 7766)
	if err != nil {
		t.Fatalf("RegisterInterfaceTCP: %v", err)
	}

	info, err := client.AttachInterfaceTCP(desc)
	if err != nil {
		t.Fatalf("AttachInterfaceTCP: %v", err)
	}
	if info.ServerID != serverID || info.IP != "10.0.0.5" || info.Port != 7766 {
		t.Errorf("unexpected TCPConnectionInfo: %+v", info)
	}
}

func TestClearAndDetachOperationsSucceed(t *testing.T) {
	_, client := startTestRegistry(t)

	desc := InterfaceDescriptor{Name: "com.example.Ping", Major: 1}
	serverID, err := client.RegisterInterface(desc, 1, "")
	if err != nil {
		t.Fatal(err)
	}

	id, err := client.SetServerDisconnectNotification(serverID, "chan", 1)
	if err != nil {
		t.Fatalf("SetServerDisconnectNotification: %v", err)
	}
	if err := client.ClearNotification(id); err != nil {
		t.Fatalf("ClearNotification: %v", err)
	}
	if err := client.UnregisterInterface(serverID); err != nil {
		t.Fatalf("UnregisterInterface: %v", err)
	}
}
