package config

import "testing"

func TestFromEnvironmentDefaults(t *testing.T) {
	c := FromEnvironment()
	if c.IPAddress != "127.0.0.1" {
		t.Errorf("default IPAddress = %q, want 127.0.0.1", c.IPAddress)
	}
	if c.ForceTCP {
		t.Error("default ForceTCP should be false")
	}
	if c.RecvTimeout != 0 || c.SendTimeout != 0 {
		t.Error("default timeouts should be unlimited (zero)")
	}
}

func TestFromEnvironmentOverrides(t *testing.T) {
	t.Setenv("DSI_FORCE_TCP", "1")
	t.Setenv("DSI_COMMENGINE_PORT", "7766")
	t.Setenv("DSI_IP_ADDRESS", "10.0.0.5")
	t.Setenv("DSI_RECV_TIMEOUT", "250")
	t.Setenv("DSI_SEND_TIMEOUT", "500")
	t.Setenv("DSISERVICEBROKER", "/tmp/sb")

	c := FromEnvironment()
	if !c.ForceTCP {
		t.Error("ForceTCP should be true")
	}
	if c.CommEnginePort != 7766 {
		t.Errorf("CommEnginePort = %d, want 7766", c.CommEnginePort)
	}
	if c.IPAddress != "10.0.0.5" {
		t.Errorf("IPAddress = %q, want 10.0.0.5", c.IPAddress)
	}
	if c.RecvTimeout.Milliseconds() != 250 {
		t.Errorf("RecvTimeout = %v, want 250ms", c.RecvTimeout)
	}
	if c.SendTimeout.Milliseconds() != 500 {
		t.Errorf("SendTimeout = %v, want 500ms", c.SendTimeout)
	}
	if c.ServiceBrokerPath != "/tmp/sb" {
		t.Errorf("ServiceBrokerPath = %q, want /tmp/sb", c.ServiceBrokerPath)
	}
}
