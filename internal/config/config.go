// Package config reads the runtime's environment-variable knobs once and
// holds them in a plain struct, in the style of the demo binaries' own
// flag/env-driven globals rather than a generic config-file loader --
// there is no config file format here, only the fixed set of environment
// variables spec.md documents.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the environment-derived settings that influence transport
// selection, timeouts, and registry discovery.
type Config struct {
	// ForceTCP mirrors DSI_FORCE_TCP: always use TCP even when a local
	// attach would succeed.
	ForceTCP bool

	// CommEnginePort mirrors DSI_COMMENGINE_PORT: if non-zero, the TCP
	// acceptor binds this port with address reuse; otherwise it picks an
	// ephemeral port.
	CommEnginePort int

	// IPAddress mirrors DSI_IP_ADDRESS: the address advertised to the
	// registry during TCP registration.
	IPAddress string

	// RecvTimeout and SendTimeout mirror DSI_RECV_TIMEOUT/DSI_SEND_TIMEOUT,
	// applied to every newly accepted or newly connected channel. Zero
	// means unlimited.
	RecvTimeout time.Duration
	SendTimeout time.Duration

	// ServiceBrokerPath mirrors DSISERVICEBROKER: overrides the registry's
	// well-known local socket mount point.
	ServiceBrokerPath string
}

const defaultServiceBrokerPath = "\x00dsi/servicebroker"

// FromEnvironment reads the current process environment.
func FromEnvironment() Config {
	c := Config{
		IPAddress:         "127.0.0.1",
		ServiceBrokerPath: defaultServiceBrokerPath,
	}

	if v := os.Getenv("DSI_FORCE_TCP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n != 0 {
			c.ForceTCP = true
		}
	}

	if v := os.Getenv("DSI_COMMENGINE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CommEnginePort = n
		}
	}

	if v := os.Getenv("DSI_IP_ADDRESS"); v != "" {
		c.IPAddress = v
	}

	if v := os.Getenv("DSI_RECV_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecvTimeout = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("DSI_SEND_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SendTimeout = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("DSISERVICEBROKER"); v != "" {
		c.ServiceBrokerPath = v
	}

	return c
}
