package channel

import (
	"net"

	"github.com/dsi-runtime/dsi/internal/config"
)

// localChannel is a stream channel over an AF_UNIX abstract-namespace
// socket -- the default transport when client and server share a host.
// Go places an address beginning with a NUL byte directly into the
// sockaddr_un, which is exactly Linux's abstract-namespace convention, so
// no special dialing logic is needed beyond using config.ServiceBrokerPath-
// style addresses.
type localChannel struct {
	conn net.Conn
	cfg  config.Config
}

// DialLocal connects to an abstract-namespace unix socket address.
func DialLocal(cfg config.Config, addr string) (Channel, error) {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, err
	}
	return &localChannel{conn: conn, cfg: cfg}, nil
}

// WrapLocal adapts an already-accepted unix connection (from a listener's
// Accept loop) into a Channel.
func WrapLocal(cfg config.Config, conn net.Conn) Channel {
	return &localChannel{conn: conn, cfg: cfg}
}

func (c *localChannel) IsOpen() bool { return c.conn != nil }

func (c *localChannel) SendAll(buf []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return sendAll(c.conn, c.cfg, buf)
}

func (c *localChannel) SendAllVectored(bufs net.Buffers) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return sendAllVectored(c.conn, c.cfg, bufs)
}

func (c *localChannel) RecvAll(buf []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return recvAll(c.conn, c.cfg, buf)
}

func (c *localChannel) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
