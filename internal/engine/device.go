package engine

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Direction selects which readiness a generic device watches for.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

// IOResult mirrors spec.md 4.C's IOResult enum: the outcome a generic
// device's handler is told about on each wakeup.
type IOResult int

const (
	DataAvailable IOResult = iota
	CanWriteNow
	DeviceHungup
	InvalidFileDescriptor
	GenericError
)

// pollInterval bounds how long the watcher goroutine blocks in one
// unix.Poll call before re-checking for added/removed fds. A real poll()
// caller would use -1 (block forever) and a self-pipe to wake it on
// mutation; the bounded timeout here is the simplest way to let add/remove
// take effect promptly without that extra plumbing, at the cost of waking
// periodically even when idle.
const pollInterval = 100 * time.Millisecond

type device struct {
	fd      int
	dir     Direction
	handler func(IOResult) bool
}

// deviceSet watches arbitrary file descriptors with golang.org/x/sys/unix.Poll
// on a dedicated goroutine -- the one place in the engine that needs real OS
// readiness polling, since an arbitrary fd (a timerfd, a signalfd, a pipe)
// can't be wrapped as a net.Conn the way every channel transport can.
type deviceSet struct {
	mu      sync.Mutex
	devices map[int]*device
	notify  func(run func())
	wake    chan struct{}
	started bool
}

func newDeviceSet(notify func(run func())) *deviceSet {
	return &deviceSet{
		devices: make(map[int]*device),
		notify:  notify,
		wake:    make(chan struct{}, 1),
	}
}

func (s *deviceSet) add(fd int, dir Direction, handler func(IOResult) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.devices[fd]; exists {
		return fmt.Errorf("engine: fd %d already added", fd)
	}
	s.devices[fd] = &device{fd: fd, dir: dir, handler: handler}
	if !s.started {
		s.started = true
		go s.loop()
	}
	s.wakeLocked()
	return nil
}

func (s *deviceSet) remove(fd int) {
	s.mu.Lock()
	delete(s.devices, fd)
	s.wakeLocked()
	s.mu.Unlock()
}

func (s *deviceSet) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *deviceSet) snapshot() []*device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

func (s *deviceSet) loop() {
	for {
		devices := s.snapshot()
		if len(devices) == 0 {
			<-s.wake
			continue
		}

		fds := make([]unix.PollFd, len(devices))
		for i, d := range devices {
			fds[i].Fd = int32(d.fd)
			if d.dir == DirectionWrite {
				fds[i].Events = unix.POLLOUT
			} else {
				fds[i].Events = unix.POLLIN
			}
		}

		n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			continue
		}
		if n == 0 {
			continue
		}

		for i, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			d := devices[i]
			result := classify(pfd.Revents, d.dir)
			s.notify(func() {
				if !d.handler(result) {
					s.remove(d.fd)
				}
			})
		}
	}
}

func classify(revents int16, dir Direction) IOResult {
	switch {
	case revents&unix.POLLNVAL != 0:
		return InvalidFileDescriptor
	case revents&(unix.POLLERR) != 0:
		return GenericError
	case revents&unix.POLLHUP != 0:
		return DeviceHungup
	case dir == DirectionWrite && revents&unix.POLLOUT != 0:
		return CanWriteNow
	default:
		return DataAvailable
	}
}
