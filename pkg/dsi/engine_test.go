package dsi

import (
	"testing"
	"time"

	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/registry"
	"github.com/dsi-runtime/dsi/internal/registry/registrytest"
	"github.com/dsi-runtime/dsi/internal/wire"
)

func testConfig() config.Config {
	return config.Config{RecvTimeout: 2 * time.Second, SendTimeout: 2 * time.Second}
}

// startTestRegistry starts one registrytest.Registry and returns its
// address; the server and client engines each dial their own Client
// against it, matching how two separate processes would share one
// registry daemon.
func startTestRegistry(t *testing.T) string {
	t.Helper()
	reg, err := registrytest.New("\x00dsi-pkgdsi-test")
	if err != nil {
		t.Fatalf("starting test registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg.Addr()
}

func dialTestRegistry(t *testing.T, addr string) *registry.Client {
	t.Helper()
	c, err := registry.Dial(addr)
	if err != nil {
		t.Fatalf("dialing test registry: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestProxyCallRoundTrip(t *testing.T) {
	addr := startTestRegistry(t)
	cfg := testConfig()
	desc := registry.InterfaceDescriptor{Name: "com.example.Ping", Major: 1, Minor: 0}

	// registrytest always reports ServerPID 0 (it doesn't track the
	// registering process), so the server engine must listen under pid 0
	// for a local attach to find it -- the same constraint
	// internal/attach's tests work around.
	serverEng := NewEngine(cfg, dialTestRegistry(t, addr), 0)
	t.Cleanup(func() { serverEng.Close() })
	stub, err := serverEng.AddServer(desc, "")
	if err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	stub.OnRequest = func(s *Stub, requestID uint32, payload []byte) {
		reply := append([]byte("pong:"), payload...)
		if err := s.Respond(wire.RESULT_OK, reply); err != nil {
			t.Errorf("Respond: %v", err)
		}
	}
	go serverEng.Run()
	t.Cleanup(func() { serverEng.Stop(0) })

	clientEng := NewEngine(cfg, dialTestRegistry(t, addr), 9102)
	go clientEng.Run()
	t.Cleanup(func() { clientEng.Stop(0) })

	connected := make(chan struct{}, 1)
	proxy := clientEng.AddClient(desc, Callbacks{
		ComponentConnected: func(p *Proxy) { connected <- struct{}{} },
	})
	if err := proxy.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("ComponentConnected callback never fired")
	}

	result, payload, err := proxy.Call(1, []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != wire.RESULT_OK {
		t.Errorf("result = %v, want RESULT_OK", result)
	}
	if string(payload) != "pong:ping" {
		t.Errorf("payload = %q, want %q", payload, "pong:ping")
	}
}

// TestProxyCallDeferredResponseViaUnblock exercises the
// UnblockRequest/PrepareResponse continuation mechanism: the handler
// defers its answer to a background goroutine instead of responding
// inline, mirroring a stub operation that depends on a slow downstream
// call.
func TestProxyCallDeferredResponseViaUnblock(t *testing.T) {
	addr := startTestRegistry(t)
	cfg := testConfig()
	desc := registry.InterfaceDescriptor{Name: "com.example.Slow", Major: 1, Minor: 0}

	// registrytest always reports ServerPID 0, so this server must also
	// listen under pid 0 (see TestProxyCallRoundTrip).
	serverEng := NewEngine(cfg, dialTestRegistry(t, addr), 0)
	t.Cleanup(func() { serverEng.Close() })
	stub, err := serverEng.AddServer(desc, "")
	if err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	stub.OnRequest = func(s *Stub, requestID uint32, payload []byte) {
		handle, ok := s.UnblockRequest()
		if !ok {
			t.Error("UnblockRequest should succeed")
			return
		}
		go func() {
			time.Sleep(10 * time.Millisecond)
			if !s.PrepareResponse(handle) {
				t.Error("PrepareResponse should find the unblocked request")
				return
			}
			if err := s.Respond(wire.RESULT_OK, []byte("done")); err != nil {
				t.Errorf("Respond: %v", err)
			}
		}()
	}
	go serverEng.Run()
	t.Cleanup(func() { serverEng.Stop(0) })

	clientEng := NewEngine(cfg, dialTestRegistry(t, addr), 9202)
	go clientEng.Run()
	t.Cleanup(func() { clientEng.Stop(0) })

	proxy := clientEng.AddClient(desc, Callbacks{})
	if err := proxy.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	result, payload, err := proxy.Call(1, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != wire.RESULT_OK || string(payload) != "done" {
		t.Errorf("result=%v payload=%q, want RESULT_OK/done", result, payload)
	}
}

// TestProxyCallRejectsCollidingRequestID exercises the busy-collision path
// of Proxy.Call: issuing a second Call under a requestID that already has
// one outstanding must fail instead of silently replacing the first
// caller's channel and leaking its goroutine.
func TestProxyCallRejectsCollidingRequestID(t *testing.T) {
	addr := startTestRegistry(t)
	cfg := testConfig()
	desc := registry.InterfaceDescriptor{Name: "com.example.Hang", Major: 1, Minor: 0}

	serverEng := NewEngine(cfg, dialTestRegistry(t, addr), 0)
	t.Cleanup(func() { serverEng.Close() })
	stub, err := serverEng.AddServer(desc, "")
	if err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	holding := make(chan struct{})
	release := make(chan struct{})
	stub.OnRequest = func(s *Stub, requestID uint32, payload []byte) {
		handle, ok := s.UnblockRequest()
		if !ok {
			t.Error("UnblockRequest should succeed")
			return
		}
		close(holding)
		<-release
		if !s.PrepareResponse(handle) {
			t.Error("PrepareResponse should find the unblocked request")
			return
		}
		if err := s.Respond(wire.RESULT_OK, nil); err != nil {
			t.Errorf("Respond: %v", err)
		}
	}
	go serverEng.Run()
	t.Cleanup(func() { serverEng.Stop(0) })

	clientEng := NewEngine(cfg, dialTestRegistry(t, addr), 9302)
	go clientEng.Run()
	t.Cleanup(func() { clientEng.Stop(0) })

	proxy := clientEng.AddClient(desc, Callbacks{})
	if err := proxy.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		proxy.Call(1, nil)
	}()

	select {
	case <-holding:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the first request")
	}

	if _, _, err := proxy.Call(1, nil); err != errRequestBusy {
		t.Errorf("second Call error = %v, want errRequestBusy", err)
	}

	close(release)
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first Call never returned after server released the response")
	}
}
