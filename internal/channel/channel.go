// Package channel implements the DSI channel abstraction: a small set of
// transports (null, local-socket, TCP, and a transient connect-response
// reader) behind one interface, plus Ref, a reference-counting wrapper
// whose last Release closes the channel it wraps.
package channel

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/dsi-runtime/dsi/internal/config"
)

// ErrClosed is returned by any operation on a channel that is no longer
// open.
var ErrClosed = errors.New("channel: closed")

// ErrNullChannel is returned by every operation on the null channel -- the
// Go analogue of the C++ original's assert-on-use sentinel, softened to an
// error since a Go library should never abort its caller's process.
var ErrNullChannel = errors.New("channel: operation on null channel")

// Channel is the common interface all four channel kinds implement.
type Channel interface {
	// IsOpen reports whether the channel can currently send and receive.
	IsOpen() bool

	// SendAll writes buf in its entirety or returns an error.
	SendAll(buf []byte) error

	// SendAllVectored writes bufs as one logical message, such as a
	// packet's header and body, without an intermediate copy.
	SendAllVectored(bufs net.Buffers) error

	// RecvAll reads exactly len(buf) bytes into buf or returns an error.
	RecvAll(buf []byte) error

	// Close releases the underlying transport. Close is idempotent.
	Close() error
}

// Ref wraps a Channel with a reference count. Only callers that Acquire
// are obliged to Release, and the last Release closes the underlying
// channel. The engine does not use Ref; it holds plain Channel values.
type Ref struct {
	Channel
	count int32
}

// NewRef wraps ch with an initial reference count of one.
func NewRef(ch Channel) *Ref {
	return &Ref{Channel: ch, count: 1}
}

// Acquire increments the reference count.
func (r *Ref) Acquire() {
	atomic.AddInt32(&r.count, 1)
}

// Release decrements the reference count, closing the underlying channel
// and returning true when it reaches zero.
func (r *Ref) Release() bool {
	if atomic.AddInt32(&r.count, -1) == 0 {
		r.Channel.Close()
		return true
	}
	return false
}

// AsyncReadInitiator is implemented by channel kinds that can begin an
// asynchronous read without blocking the caller -- used only during the
// TCP client attach handshake (spec.md 4.E.4), where the connect-response
// must not stall the engine thread while the server replies. onDone fires
// from a background goroutine, never from the engine thread directly; the
// caller is responsible for handing the result back onto the engine's
// dispatch path.
type AsyncReadInitiator interface {
	InitiateConnectRead(onDone func(data []byte, err error))
}

// nullChannel is the shared sentinel used as the default weak pointee
// before a real channel is attached. Every operation fails rather than
// panicking, since panicking on ordinary default-initialized state would
// make the zero value a landmine for callers.
type nullChannel struct{}

// Null is the single shared null channel instance.
var Null Channel = nullChannel{}

func (nullChannel) IsOpen() bool                            { return false }
func (nullChannel) SendAll(buf []byte) error                { return ErrNullChannel }
func (nullChannel) SendAllVectored(bufs net.Buffers) error   { return ErrNullChannel }
func (nullChannel) RecvAll(buf []byte) error                 { return ErrNullChannel }
func (nullChannel) Close() error                             { return nil }

// deadlines computes the absolute read/write deadlines implied by cfg,
// or the zero Time (no deadline) when the corresponding timeout is zero.
func deadlines(cfg config.Config) (read, write time.Time) {
	now := time.Now()
	if cfg.RecvTimeout > 0 {
		read = now.Add(cfg.RecvTimeout)
	}
	if cfg.SendTimeout > 0 {
		write = now.Add(cfg.SendTimeout)
	}
	return read, write
}

// recvAll reads exactly len(buf) bytes from conn, applying cfg's receive
// timeout. Used by both localChannel and tcpChannel, which differ only in
// how the underlying net.Conn is established.
func recvAll(conn net.Conn, cfg config.Config, buf []byte) error {
	read, _ := deadlines(cfg)
	if err := conn.SetReadDeadline(read); err != nil {
		return err
	}
	_, err := readFull(conn, buf)
	return err
}

func sendAll(conn net.Conn, cfg config.Config, buf []byte) error {
	_, write := deadlines(cfg)
	if err := conn.SetWriteDeadline(write); err != nil {
		return err
	}
	_, err := conn.Write(buf)
	return err
}

func sendAllVectored(conn net.Conn, cfg config.Config, bufs net.Buffers) error {
	_, write := deadlines(cfg)
	if err := conn.SetWriteDeadline(write); err != nil {
		return err
	}
	_, err := bufs.WriteTo(conn)
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
