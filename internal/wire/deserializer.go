package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrRange is the sticky error set on the first failed read (insufficient
// bytes or a malformed length prefix). Once set, every further Read* call
// is a no-op returning the zero value -- mirroring CIStream::mError in
// original_source/src/base/CIStream.cpp, where every read method checks
// mError before touching the buffer.
var ErrRange = errors.New("wire: range error")

// Deserializer reads a DSI payload sequentially. It never panics on
// malformed input; instead it latches an error and answers zero values.
type Deserializer struct {
	data []byte
	off  int
	err  error
}

// NewDeserializer wraps payload for sequential reading.
func NewDeserializer(payload []byte) *Deserializer {
	return &Deserializer{data: payload}
}

// Err returns the sticky error, or nil if every read so far has succeeded.
func (d *Deserializer) Err() error {
	return d.err
}

// Remaining returns the number of unread bytes.
func (d *Deserializer) Remaining() int {
	return len(d.data) - d.off
}

func (d *Deserializer) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.Remaining() {
		d.err = ErrRange
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Deserializer) ReadUint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Deserializer) ReadInt32() int32 { return int32(d.ReadUint32()) }

func (d *Deserializer) ReadUint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *Deserializer) ReadInt16() int16 { return int16(d.ReadUint16()) }

func (d *Deserializer) ReadUint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *Deserializer) ReadInt64() int64 { return int64(d.ReadUint64()) }

func (d *Deserializer) ReadFloat64() float64 {
	return math.Float64frombits(d.ReadUint64())
}

func (d *Deserializer) ReadFloat32() float32 {
	return math.Float32frombits(d.ReadUint32())
}

func (d *Deserializer) ReadBool() bool {
	return d.ReadUint32() != 0
}

func (d *Deserializer) ReadEnum() int {
	return int(d.ReadUint32())
}

// ReadString decodes a wide string written by Serializer.WriteString.
func (d *Deserializer) ReadString() string {
	n := d.ReadUint32()
	if d.err != nil || n == 0 {
		return ""
	}
	b := d.take(int(n))
	if b == nil {
		return ""
	}
	// drop the trailing zero byte the writer always appends
	if len(b) == 0 {
		d.err = ErrRange
		return ""
	}
	return string(b[:len(b)-1])
}

// ReadBytes decodes a byte string written by Serializer.WriteBytes.
func (d *Deserializer) ReadBytes() []byte {
	n := d.ReadUint32()
	if d.err != nil || n == 0 {
		return nil
	}
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ReadSequence decodes a sequence written by WriteSequence. If the count
// prefix is negative or the deserializer is already in error, it returns
// nil without invoking read.
func ReadSequence[T any](d *Deserializer, read func(*Deserializer) T) []T {
	count := d.ReadInt32()
	if d.err != nil {
		return nil
	}
	if count < 0 {
		d.err = ErrRange
		return nil
	}
	out := make([]T, 0, count)
	for i := int32(0); i < count; i++ {
		out = append(out, read(d))
		if d.err != nil {
			return nil
		}
	}
	return out
}

// ReadMapping decodes a mapping written by WriteMapping.
func ReadMapping[K comparable, V any](d *Deserializer, readKey func(*Deserializer) K, readVal func(*Deserializer) V) map[K]V {
	count := d.ReadInt32()
	if d.err != nil {
		return nil
	}
	if count < 0 {
		d.err = ErrRange
		return nil
	}
	out := make(map[K]V, count)
	for i := int32(0); i < count; i++ {
		k := readKey(d)
		v := readVal(d)
		if d.err != nil {
			return nil
		}
		out[k] = v
	}
	return out
}
