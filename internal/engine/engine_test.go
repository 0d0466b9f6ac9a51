package engine

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/wire"
)

func testConfig() config.Config {
	return config.Config{RecvTimeout: 2 * time.Second, SendTimeout: 2 * time.Second}
}

func TestEngineDispatchesReassembledMessage(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()

	cfg := testConfig()
	e := New(cfg)

	received := make(chan Message, 1)
	e.SetHandler(func(m Message) { received <- m })
	e.AddChannel(channel.WrapLocal(cfg, b))
	go e.Run()
	defer e.Stop(0)

	go func() {
		info := wire.EventInfo{RequestType: wire.REQUEST, RequestID: 1, SequenceNumber: 9}
		payload := []byte("ping payload")
		packets := wire.Fragment(wire.PartyID{Local: 1}, wire.PartyID{Local: 2}, wire.CmdDataRequest, wire.ProtocolVersionMinor, info, false, payload)
		for _, pkt := range packets {
			a.Write(pkt)
		}
	}()

	select {
	case m := <-received:
		if string(m.Payload) != "ping payload" {
			t.Errorf("payload = %q, want %q", m.Payload, "ping payload")
		}
		if m.Info.RequestID != 1 || m.Info.SequenceNumber != 9 {
			t.Errorf("unexpected info: %+v", m.Info)
		}
		if m.Header.Cmd != wire.CmdDataRequest {
			t.Errorf("cmd = %v, want DataRequest", m.Header.Cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

func TestEngineRunReturnsStopExitCode(t *testing.T) {
	e := New(testConfig())
	done := make(chan int, 1)
	go func() { done <- e.Run() }()

	e.Stop(7)
	select {
	case code := <-done:
		if code != 7 {
			t.Errorf("exit code = %d, want 7", code)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestAddGenericDeviceFiresOnReadable(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	e := New(testConfig())
	go e.Run()
	defer e.Stop(0)

	fired := make(chan IOResult, 1)
	err = e.AddGenericDevice(int(r.Fd()), DirectionRead, func(res IOResult) bool {
		fired <- res
		return false
	})
	if err != nil {
		t.Fatal(err)
	}

	w.Write([]byte("x"))

	select {
	case res := <-fired:
		if res != DataAvailable {
			t.Errorf("IOResult = %v, want DataAvailable", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for generic device readiness")
	}
}

func TestAddGenericDeviceRejectsDuplicateFd(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	e := New(testConfig())
	if err := e.AddGenericDevice(int(r.Fd()), DirectionRead, func(IOResult) bool { return true }); err != nil {
		t.Fatal(err)
	}
	if err := e.AddGenericDevice(int(r.Fd()), DirectionRead, func(IOResult) bool { return true }); err == nil {
		t.Error("expected error adding the same fd twice")
	}
}
