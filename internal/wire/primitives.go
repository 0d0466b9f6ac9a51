package wire

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Serializer accumulates a DSI payload. Writes never fail short of
// allocation exhaustion, matching spec.md's error model for the encode
// side; every method therefore returns nothing.
type Serializer struct {
	buf bytes.Buffer
}

// NewSerializer returns an empty Serializer ready to write into.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Bytes returns the accumulated payload.
func (s *Serializer) Bytes() []byte {
	return s.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (s *Serializer) Len() int {
	return s.buf.Len()
}

func (s *Serializer) WriteInt32(v int32)   { s.WriteUint32(uint32(v)) }
func (s *Serializer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.buf.Write(b[:])
}

func (s *Serializer) WriteInt16(v int16)   { s.WriteUint16(uint16(v)) }
func (s *Serializer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	s.buf.Write(b[:])
}

func (s *Serializer) WriteInt64(v int64)   { s.WriteUint64(uint64(v)) }
func (s *Serializer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.buf.Write(b[:])
}

func (s *Serializer) WriteFloat64(v float64) {
	s.WriteUint64(math.Float64bits(v))
}

func (s *Serializer) WriteFloat32(v float32) {
	s.WriteUint32(math.Float32bits(v))
}

// WriteBool encodes b as a 32-bit 0 or 1.
func (s *Serializer) WriteBool(b bool) {
	if b {
		s.WriteUint32(1)
	} else {
		s.WriteUint32(0)
	}
}

// WriteEnum encodes an enumeration value as uint32.
func (s *Serializer) WriteEnum(v int) {
	s.WriteUint32(uint32(v))
}

// WriteString encodes a wide (UTF-8) string as
// uint32 byteLengthIncludingTrailingZero, then the bytes, then one
// terminating zero byte. An empty string encodes as a single uint32 0.
func (s *Serializer) WriteString(str string) {
	if len(str) == 0 {
		s.WriteUint32(0)
		return
	}
	s.WriteUint32(uint32(len(str) + 1))
	s.buf.WriteString(str)
	s.buf.WriteByte(0)
}

// WriteBytes encodes a byte string as uint32 length followed by the raw
// bytes, with no terminator.
func (s *Serializer) WriteBytes(data []byte) {
	s.WriteUint32(uint32(len(data)))
	s.buf.Write(data)
}

// WriteSequence encodes count elements, invoking write for each in order.
func WriteSequence[T any](s *Serializer, elems []T, write func(*Serializer, T)) {
	s.WriteInt32(int32(len(elems)))
	for _, e := range elems {
		write(s, e)
	}
}

// WriteMapping encodes a mapping as count (len(keys)), then one
// (key, m[key]) pair per entry of keys, in the order keys lists them.
// Callers that need deterministic wire output pass keys already sorted.
func WriteMapping[K comparable, V any](s *Serializer, keys []K, m map[K]V, writeKey func(*Serializer, K), writeVal func(*Serializer, V)) {
	s.WriteInt32(int32(len(keys)))
	for _, k := range keys {
		writeKey(s, k)
		writeVal(s, m[k])
	}
}
