// Package engine implements the DSI communication engine: a
// single-threaded-semantics, readiness-driven dispatcher built on one
// goroutine per channel feeding a single dispatch channel, in the idiom of
// sandia-minimega-minimega's meshage node (per-connection receiveHandler
// goroutines feeding one messagePump, drained by one messageHandler
// goroutine). A poll()-based multiplexer has no clean Go equivalent for
// ordinary stream sockets -- net.Conn already gives every connection its
// own blocking reader, so "readiness" is modeled as "a goroutine woke up
// with a full packet," and only addGenericDevice (arbitrary, non-net.Conn
// file descriptors) needs a real poll loop.
package engine

import (
	"fmt"
	"sync"

	"github.com/dsi-runtime/dsi/internal/channel"
	"github.com/dsi-runtime/dsi/internal/config"
	"github.com/dsi-runtime/dsi/internal/wire"
	"github.com/dsi-runtime/dsi/pkg/dsilog"
)

// Message is one fully reassembled DSI message handed to the engine's
// handler, with Reply set to the channel it arrived on so the handler can
// answer without a second lookup.
type Message struct {
	Header  wire.MessageHeader
	Info    wire.EventInfo
	Payload []byte
	Reply   channel.Channel
}

// Handler processes one reassembled message. It runs on the engine's
// single dispatch goroutine -- spec.md 4.C's "all handlers run on the
// engine thread" -- so it must not block for arbitrary durations.
type Handler func(Message)

// channelError is pushed onto the dispatch channel when a channel's
// readLoop ends, so channel removal (and its detach side effects) happens
// on the same goroutine as every other event instead of racing with it.
type channelError struct {
	ch  channel.Channel
	err error
}

type dispatched struct {
	msg    *Message
	gone   *channelError
	runner func()
}

// Engine owns the dispatch loop, the set of channels it reads from, and
// the generic-device poll watcher.
type Engine struct {
	cfg config.Config

	mu       sync.Mutex
	handler  Handler
	channels map[channel.Channel]struct{}

	dispatch chan dispatched
	stopCh   chan int
	stopOnce sync.Once

	devices *deviceSet
}

// New constructs an Engine. Call SetHandler before AddChannel/Run so no
// message is dropped on the floor.
func New(cfg config.Config) *Engine {
	e := &Engine{
		cfg:      cfg,
		channels: make(map[channel.Channel]struct{}),
		dispatch: make(chan dispatched, 64),
		stopCh:   make(chan int, 1),
	}
	e.devices = newDeviceSet(func(run func()) {
		e.dispatch <- dispatched{runner: run}
	})
	return e
}

// SetHandler installs the message handler. Must be called before Run.
func (e *Engine) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// AddChannel begins reading packets from ch, reassembling them into
// Messages and feeding the dispatch loop. The reader runs on its own
// goroutine; ch is otherwise untouched until it closes or errors.
func (e *Engine) AddChannel(ch channel.Channel) {
	e.mu.Lock()
	e.channels[ch] = struct{}{}
	e.mu.Unlock()
	go e.readLoop(ch)
}

// RemoveChannel stops tracking ch and closes it. Safe to call even if the
// channel's readLoop has already exited on its own.
func (e *Engine) RemoveChannel(ch channel.Channel) {
	e.mu.Lock()
	_, tracked := e.channels[ch]
	delete(e.channels, ch)
	e.mu.Unlock()
	if tracked {
		ch.Close()
	}
}

func (e *Engine) readLoop(ch channel.Channel) {
	for {
		msg, err := readMessage(ch)
		if err != nil {
			e.dispatch <- dispatched{gone: &channelError{ch: ch, err: err}}
			return
		}
		msg.Reply = ch
		e.dispatch <- dispatched{msg: msg}
	}
}

// readMessage blocks until one full (possibly fragmented) message has been
// read from ch.
func readMessage(ch channel.Channel) (*Message, error) {
	r := wire.NewReassembler()
	for {
		hdrBuf := make([]byte, wire.HeaderSize)
		if err := ch.RecvAll(hdrBuf); err != nil {
			return nil, err
		}
		d := wire.NewDeserializer(hdrBuf)
		h := wire.DecodeHeader(d)
		if d.Err() != nil {
			return nil, fmt.Errorf("engine: malformed header: %w", d.Err())
		}

		body := make([]byte, h.PacketLength)
		if len(body) > 0 {
			if err := ch.RecvAll(body); err != nil {
				return nil, err
			}
		}

		done, err := r.Feed(h, body)
		if err != nil {
			return nil, err
		}
		if done {
			return &Message{Header: r.Header(), Info: r.Info(), Payload: r.Payload()}, nil
		}
	}
}

// Run drains the dispatch channel on the calling goroutine until Stop is
// called. It returns the exit code passed to Stop, or -1 if a handler
// panics: the panic is recovered, logged at ERROR, and ends the loop.
func (e *Engine) Run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			dsilog.Error("engine: handler panicked: %v", r)
			code = -1
		}
	}()
	for {
		select {
		case code := <-e.stopCh:
			return code
		case d := <-e.dispatch:
			e.handleDispatched(d)
		}
	}
}

func (e *Engine) handleDispatched(d dispatched) {
	if d.runner != nil {
		d.runner()
		return
	}
	if d.gone != nil {
		e.RemoveChannel(d.gone.ch)
		return
	}
	if d.msg == nil {
		return
	}
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h(*d.msg)
	}
}

// AddGenericDevice adds an external file descriptor (timers, pipes,
// signals, ...) to the multiplexer, per spec.md 4.C. handler is invoked on
// the engine's dispatch goroutine, never directly from the poll watcher;
// it returns true to stay armed. The same fd may not be added twice.
func (e *Engine) AddGenericDevice(fd int, dir Direction, handler func(IOResult) bool) error {
	return e.devices.add(fd, dir, handler)
}

// RemoveGenericDevice removes fd from the multiplexer.
func (e *Engine) RemoveGenericDevice(fd int) {
	e.devices.remove(fd)
}

// Stop breaks Run's loop with the given exit code. Safe to call from any
// goroutine, including from inside a Handler.
func (e *Engine) Stop(exitcode int) {
	e.stopOnce.Do(func() {
		e.stopCh <- exitcode
	})
}

// Send writes a (possibly fragmented) message to ch.
func (e *Engine) Send(ch channel.Channel, serverID, clientID wire.PartyID, cmd wire.Command, protoMinor uint16, info wire.EventInfo, resultSide bool, payload []byte) error {
	packets := wire.Fragment(serverID, clientID, cmd, protoMinor, info, resultSide, payload)
	for _, pkt := range packets {
		if err := ch.SendAll(pkt); err != nil {
			return err
		}
	}
	return nil
}
