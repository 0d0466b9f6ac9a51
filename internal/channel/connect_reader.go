package channel

import (
	"net"

	"github.com/dsi-runtime/dsi/internal/config"
)

// maxConnectReply bounds the one-shot read used during TCP attach: large
// enough for either reply shape spec.md 4.E.5 describes (a MessageHeader
// followed directly by its payload, or a bare TCPConnectRequestInfo).
const maxConnectReply = 256

// connectReader is the transient fourth channel kind: a TCP connection
// used only to send a ConnectRequest and read its ConnectResponse
// asymmetrically, then discarded once the attach state machine opens the
// persistent channel spec.md 4.E describes. It is never placed in an
// engine's endpoint cache.
type connectReader struct {
	conn net.Conn
	cfg  config.Config
}

// NewConnectReader wraps an already-dialed TCP connection for the
// connect-response handshake.
func NewConnectReader(cfg config.Config, conn net.Conn) Channel {
	return &connectReader{conn: conn, cfg: cfg}
}

func (c *connectReader) IsOpen() bool { return c.conn != nil }

func (c *connectReader) SendAll(buf []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return sendAll(c.conn, c.cfg, buf)
}

func (c *connectReader) SendAllVectored(bufs net.Buffers) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return sendAllVectored(c.conn, c.cfg, bufs)
}

func (c *connectReader) RecvAll(buf []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return recvAll(c.conn, c.cfg, buf)
}

func (c *connectReader) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// InitiateConnectRead reads whatever the peer sends next (up to
// maxConnectReply bytes) on a background goroutine and hands the raw bytes
// to onDone, leaving the legacy-shape vs. full-header decision to the
// attach state machine (spec.md 4.E.5 distinguishes them by the first 4
// bytes, which belong to wire.MessageMagic, not to this transport layer).
func (c *connectReader) InitiateConnectRead(onDone func(data []byte, err error)) {
	if !c.IsOpen() {
		go onDone(nil, ErrClosed)
		return
	}
	go func() {
		buf := make([]byte, maxConnectReply)
		read, _ := deadlines(c.cfg)
		if err := c.conn.SetReadDeadline(read); err != nil {
			onDone(nil, err)
			return
		}
		n, err := c.conn.Read(buf)
		if err != nil && n == 0 {
			onDone(nil, err)
			return
		}
		onDone(buf[:n], nil)
	}()
}
