// Package dsi is the application-facing proxy/stub runtime base: the
// generic state every generated client (proxy) and server (stub) builds
// on, translated from original_source/include/dsi/private/attributes.hpp's
// AttributeBase/ServerAttributeBase/ClientAttribute templates into Go
// generics, plus the Engine wrapper, Proxy and Stub of spec.md 4.G.
package dsi

import "github.com/dsi-runtime/dsi/internal/wire"

// AttributeState mirrors DSI::DataStateType: an attribute starts
// NotAvailable, becomes Ok on first assignment, and Invalid on an
// explicit invalidate.
type AttributeState int

const (
	NotAvailable AttributeState = iota
	Invalid
	Ok
)

func (s AttributeState) String() string {
	switch s {
	case NotAvailable:
		return "NotAvailable"
	case Invalid:
		return "Invalid"
	case Ok:
		return "Ok"
	default:
		return "Unknown"
	}
}

// ServerAttribute is the stub-side attribute state: value plus state,
// grounded on Private::ServerAttributeBase. Set/Invalidate are the only
// ways to change it, mirroring operator= and invalidate().
type ServerAttribute[T any] struct {
	value T
	state AttributeState
}

// Set assigns a new value and flips the state to Ok.
func (a *ServerAttribute[T]) Set(v T) {
	a.value = v
	a.state = Ok
}

// Invalidate flips the state to Invalid without touching the stored value,
// mirroring ServerAttributeBase::invalidate -- Value still returns the last
// value set, and only a later Set returns the state to Ok.
func (a *ServerAttribute[T]) Invalidate() { a.state = Invalid }

// Value returns the currently stored value, regardless of state.
func (a *ServerAttribute[T]) Value() T { return a.value }

// State reports the attribute's current state.
func (a *ServerAttribute[T]) State() AttributeState { return a.state }

// SequenceAttribute is the partial-update-capable attribute for a
// sequence-valued attribute, grounded on
// Private::ServerAttribute<std::vector<T>>::set.
type SequenceAttribute[T any] struct {
	ServerAttribute[[]T]
}

// SetPartial applies a partial update to the sequence and marks it Ok,
// mirroring ServerAttribute<vector<T>>::set's switch over UpdateType.
func (a *SequenceAttribute[T]) SetPartial(upd wire.PartialUpdate[T]) error {
	next, err := wire.Apply(a.value, upd)
	if err != nil {
		return err
	}
	a.value = next
	a.state = Ok
	return nil
}

// ClientAttribute is the proxy-side mirror of a server attribute: it only
// ever changes in response to a DataResponse the runtime decodes, never by
// direct assignment from user code.
type ClientAttribute[T any] struct {
	value T
	state AttributeState
}

// ApplyOk stores a freshly decoded value and flips the state to Ok,
// invoked when a DATA_OK response arrives.
func (a *ClientAttribute[T]) ApplyOk(v T) {
	a.value = v
	a.state = Ok
}

// ApplyInvalid flips the state to Invalid, preserving the last known
// value, invoked when a DATA_INVALID response arrives.
func (a *ClientAttribute[T]) ApplyInvalid() { a.state = Invalid }

// ResetNotAvailable returns the attribute to its startup state, used when
// the proxy detaches from its server.
func (a *ClientAttribute[T]) ResetNotAvailable() {
	var zero T
	a.value = zero
	a.state = NotAvailable
}

// Value returns the last known value, regardless of state.
func (a *ClientAttribute[T]) Value() T { return a.value }

// State reports the attribute's current state.
func (a *ClientAttribute[T]) State() AttributeState { return a.state }

// ClientSequenceAttribute is the proxy-side mirror of a sequence attribute,
// additionally able to apply a partial update in place.
type ClientSequenceAttribute[T any] struct {
	ClientAttribute[[]T]
}

// ApplyPartial applies a partial update to the mirrored sequence.
func (a *ClientSequenceAttribute[T]) ApplyPartial(upd wire.PartialUpdate[T]) error {
	next, err := wire.Apply(a.value, upd)
	if err != nil {
		return err
	}
	a.value = next
	a.state = Ok
	return nil
}
