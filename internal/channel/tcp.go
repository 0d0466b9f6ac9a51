package channel

import (
	"fmt"
	"net"

	"github.com/dsi-runtime/dsi/internal/config"
)

// tcpChannel is a stream channel over AF_INET, used when client and server
// are on different hosts, or when DSI_FORCE_TCP pins the transport.
type tcpChannel struct {
	conn net.Conn
	cfg  config.Config
}

// DialTCP connects to a server's advertised ip:port.
func DialTCP(cfg config.Config, ip string, port int) (Channel, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, err
	}
	return &tcpChannel{conn: conn, cfg: cfg}, nil
}

// WrapTCP adapts an already-accepted TCP connection into a Channel.
func WrapTCP(cfg config.Config, conn net.Conn) Channel {
	return &tcpChannel{conn: conn, cfg: cfg}
}

func (c *tcpChannel) IsOpen() bool { return c.conn != nil }

func (c *tcpChannel) SendAll(buf []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return sendAll(c.conn, c.cfg, buf)
}

func (c *tcpChannel) SendAllVectored(bufs net.Buffers) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return sendAllVectored(c.conn, c.cfg, bufs)
}

func (c *tcpChannel) RecvAll(buf []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	return recvAll(c.conn, c.cfg, buf)
}

func (c *tcpChannel) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// LocalAddr exposes the dialed/accepted local TCP endpoint, or nil once the
// channel is closed.
func (c *tcpChannel) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}
