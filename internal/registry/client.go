package registry

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dsi-runtime/dsi/internal/wire"
)

// Client is a connection to the registry daemon. One Client serializes all
// its RPCs behind a mutex, matching pkg/miniclient.Conn's single
// encoder/decoder pair guarded by a lock rather than one connection per
// call.
type Client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	lock sync.Mutex
}

// Dial connects to the registry daemon's well-known local socket address,
// retrying with exponential backoff on a temporary dial error -- the same
// policy pkg/miniclient.Dial uses against minimega's control socket.
func Dial(addr string) (*Client, error) {
	var conn net.Conn
	backoff := 10 * time.Millisecond
	for {
		var err error
		conn, err = net.Dial("unix", addr)
		if err == nil {
			break
		}
		if opErr, ok := err.(*net.OpError); ok && opErr.Temporary() {
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		return nil, err
	}
	return &Client{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, nil
}

// Close releases the connection to the registry daemon.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(operation op, args, result interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.enc.Encode(request{Op: operation, Args: args}); err != nil {
		return fmt.Errorf("registry: encode %s: %w", operation, err)
	}
	var resp response
	if err := c.dec.Decode(&resp); err != nil {
		return fmt.Errorf("registry: decode %s response: %w", operation, err)
	}
	if resp.Err != "" {
		return fmt.Errorf("registry: %s: %s", operation, resp.Err)
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("registry: unmarshal %s result: %w", operation, err)
		}
	}
	return nil
}

type registerInterfaceArgs struct {
	Desc      InterfaceDescriptor
	ChannelID int32
	UserGroup string
}

// RegisterInterface registers a local (AF_UNIX-reachable) server instance.
func (c *Client) RegisterInterface(desc InterfaceDescriptor, channelID int32, userGroup string) (serverID wire.PartyID, err error) {
	err = c.call(opRegisterInterface, registerInterfaceArgs{desc, channelID, userGroup}, &serverID)
	return
}

type registerInterfaceTCPArgs struct {
	Desc InterfaceDescriptor
	IP   string
	Port int
}

// RegisterInterfaceTCP registers a TCP-reachable server instance.
func (c *Client) RegisterInterfaceTCP(desc InterfaceDescriptor, ip string, port int) (serverID wire.PartyID, err error) {
	err = c.call(opRegisterInterfaceTCP, registerInterfaceTCPArgs{desc, ip, port}, &serverID)
	return
}

// AttachInterface looks up a registered local server for desc.
func (c *Client) AttachInterface(desc InterfaceDescriptor) (ConnectionInfo, error) {
	var info ConnectionInfo
	err := c.call(opAttachInterface, desc, &info)
	return info, err
}

// AttachInterfaceTCP looks up a registered TCP server for desc.
func (c *Client) AttachInterfaceTCP(desc InterfaceDescriptor) (TCPConnectionInfo, error) {
	var info TCPConnectionInfo
	err := c.call(opAttachInterfaceTCP, desc, &info)
	return info, err
}

type pulseNotifyArgs struct {
	Desc         InterfaceDescriptor
	PulseChannel string
	PulseValue   int64
}

// SetServerAvailableNotification arms a pulse fired the next time a server
// for desc registers.
func (c *Client) SetServerAvailableNotification(desc InterfaceDescriptor, pulseChannel string, pulseValue int64) (notificationID int64, err error) {
	err = c.call(opSetServerAvailableNotify, pulseNotifyArgs{desc, pulseChannel, pulseValue}, &notificationID)
	return
}

type serverIDNotifyArgs struct {
	ServerID     wire.PartyID
	PulseChannel string
	PulseValue   int64
}

// SetServerDisconnectNotification arms a pulse fired if serverID
// unregisters or its process dies.
func (c *Client) SetServerDisconnectNotification(serverID wire.PartyID, pulseChannel string, pulseValue int64) (notificationID int64, err error) {
	err = c.call(opSetServerDisconnectNotify, serverIDNotifyArgs{serverID, pulseChannel, pulseValue}, &notificationID)
	return
}

type clientIDNotifyArgs struct {
	ClientID     wire.PartyID
	PulseChannel string
	PulseValue   int64
}

// SetClientDetachNotification arms a pulse fired if clientID detaches.
func (c *Client) SetClientDetachNotification(clientID wire.PartyID, pulseChannel string, pulseValue int64) (notificationID int64, err error) {
	err = c.call(opSetClientDetachNotify, clientIDNotifyArgs{clientID, pulseChannel, pulseValue}, &notificationID)
	return
}

// ClearNotification disarms a previously armed pulse.
func (c *Client) ClearNotification(notificationID int64) error {
	return c.call(opClearNotification, notificationID, nil)
}

// DetachInterface tears down a client's registry-side bookkeeping.
func (c *Client) DetachInterface(clientID wire.PartyID) error {
	return c.call(opDetachInterface, clientID, nil)
}

// UnregisterInterface removes a server's registration.
func (c *Client) UnregisterInterface(serverID wire.PartyID) error {
	return c.call(opUnregisterInterface, serverID, nil)
}
