// Package variant implements the tagged-union value container of the
// wire protocol: a value that holds exactly one of up to MaxAlternatives
// distinct types, indexed from 1 in declaration order, with 0 meaning
// empty.
//
// The C++ original (TVariant<TypeListT>) builds its type list and storage
// layout at compile time via template metaprogramming. Go generics don't
// support variadic type parameters, so the type list here is a runtime
// value (a []reflect.Type supplied once at construction) and storage is a
// plain interface{} rather than hand-aligned inline bytes -- the
// alignment/inline-storage concerns of the original only matter for a
// language without a garbage-collected, boxed interface value.
package variant

import (
	"fmt"
	"reflect"
)

// MaxAlternatives is the largest number of distinct types a Variant may
// hold, so a type id is always in 0-15 (0 meaning empty); the wire
// encoding carries it as an int32.
const MaxAlternatives = 15

// Variant holds at most one value of the types it was constructed with.
type Variant struct {
	types []reflect.Type
	idx   int // 1-based; 0 means empty
	value interface{}
}

// New constructs an empty Variant whose alternatives are exactly the given
// types, in declaration order. It panics if given zero or more than
// MaxAlternatives types -- a programming error, not a runtime condition,
// since the type list is fixed at construction and known at compile time
// by callers.
func New(types ...reflect.Type) *Variant {
	if len(types) == 0 {
		panic("variant: at least one alternative type is required")
	}
	if len(types) > MaxAlternatives {
		panic(fmt.Sprintf("variant: %d alternatives exceeds maximum of %d", len(types), MaxAlternatives))
	}
	return &Variant{types: types}
}

// NewFrom constructs a Variant with the given alternatives already holding v.
func NewFrom(v interface{}, types ...reflect.Type) (*Variant, error) {
	variant := New(types...)
	if err := variant.Set(v); err != nil {
		return nil, err
	}
	return variant, nil
}

// TypeID returns the 1-based index of t among the Variant's alternatives,
// or 0 if t is not one of them.
func (v *Variant) TypeID(t reflect.Type) int {
	for i, alt := range v.types {
		if alt == t {
			return i + 1
		}
	}
	return 0
}

// CurrentTypeID returns the 1-based index of the currently stored type, or
// 0 if the Variant is empty.
func (v *Variant) CurrentTypeID() int {
	return v.idx
}

// IsEmpty reports whether the Variant currently holds no value.
func (v *Variant) IsEmpty() bool {
	return v.idx == 0
}

// Set replaces the stored value. It returns an error if the value's type
// is not one of the Variant's declared alternatives.
func (v *Variant) Set(val interface{}) error {
	t := reflect.TypeOf(val)
	id := v.TypeID(t)
	if id == 0 {
		return fmt.Errorf("variant: type %v is not a declared alternative", t)
	}
	v.idx = id
	v.value = val
	return nil
}

// Reset clears the Variant back to empty.
func (v *Variant) Reset() {
	v.idx = 0
	v.value = nil
}

// DecodeSet is used by the wire decoder to install a value already known
// to correspond to alternative id. An out-of-range id (including 0, the
// empty marker, and anything beyond the declared alternatives) resets the
// Variant to empty rather than erroring -- this is the wire protocol's
// "unknown typeId resets to empty" rule (spec.md 4.A), and is exactly why
// the dispatch table here is derived from len(v.types) instead of a
// hand-maintained constant.
func (v *Variant) DecodeSet(id int, val interface{}) {
	if id <= 0 || id > len(v.types) {
		v.Reset()
		return
	}
	v.idx = id
	v.value = val
}

// Get returns the stored value as T and true if the Variant currently
// holds a T, or the zero value and false otherwise -- the Go analogue of
// the C++ accessor returning a typed pointer or nullptr on mismatch.
func Get[T any](v *Variant) (T, bool) {
	var zero T
	if v.IsEmpty() {
		return zero, false
	}
	val, ok := v.value.(T)
	if !ok {
		return zero, false
	}
	return val, true
}

// Equal reports whether v and rhs hold the same type and an equal value.
// Both Variants must share the same alternative list.
func (v *Variant) Equal(rhs *Variant) bool {
	if v.idx != rhs.idx {
		return false
	}
	if v.idx == 0 {
		return true
	}
	return reflect.DeepEqual(v.value, rhs.value)
}

// Alternatives returns the declared type list, in declaration order.
func (v *Variant) Alternatives() []reflect.Type {
	return v.types
}

// Value returns the stored value without requiring the caller to know its
// type, or nil if the Variant is empty. Generic callers should prefer
// Get[T]; this exists for code that must dispatch on CurrentTypeID instead,
// such as the wire union codec.
func (v *Variant) Value() interface{} {
	return v.value
}
