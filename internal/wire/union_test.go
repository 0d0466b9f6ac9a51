package wire

import (
	"reflect"
	"testing"

	"github.com/dsi-runtime/dsi/internal/variant"
)

func pingPongAlternatives() []UnionAlternative {
	return []UnionAlternative{
		{
			Encode: func(s *Serializer, v interface{}) { s.WriteInt32(v.(int32)) },
			Decode: func(d *Deserializer) interface{} { return d.ReadInt32() },
		},
		{
			Encode: func(s *Serializer, v interface{}) { s.WriteString(v.(string)) },
			Decode: func(d *Deserializer) interface{} { return d.ReadString() },
		},
	}
}

func TestUnionRoundTrip(t *testing.T) {
	types := []reflect.Type{reflect.TypeOf(int32(0)), reflect.TypeOf("")}
	alts := pingPongAlternatives()

	src := variant.New(types...)
	if err := src.Set("hello"); err != nil {
		t.Fatal(err)
	}

	s := NewSerializer()
	WriteUnion(s, src, alts)

	dst := variant.New(types...)
	d := NewDeserializer(s.Bytes())
	ReadUnion(d, dst, alts)

	if d.Err() != nil {
		t.Fatalf("unexpected error: %v", d.Err())
	}
	if !src.Equal(dst) {
		t.Errorf("decoded union does not equal source: got %v", dst.Value())
	}
	if got, ok := variant.Get[string](dst); !ok || got != "hello" {
		t.Errorf("Get[string] = %v, %v; want hello, true", got, ok)
	}
}

func TestEmptyUnionRoundTrip(t *testing.T) {
	types := []reflect.Type{reflect.TypeOf(int32(0)), reflect.TypeOf("")}
	alts := pingPongAlternatives()

	src := variant.New(types...)
	s := NewSerializer()
	WriteUnion(s, src, alts)
	if s.Len() != 4 {
		t.Fatalf("empty union encoded length = %d, want 4", s.Len())
	}

	dst := variant.New(types...)
	dst.Set(int32(99))
	d := NewDeserializer(s.Bytes())
	ReadUnion(d, dst, alts)

	if !dst.IsEmpty() {
		t.Error("decoding an empty union must leave the destination empty")
	}
}

func TestUnionOutOfRangeTypeIDResetsToEmpty(t *testing.T) {
	types := []reflect.Type{reflect.TypeOf(int32(0)), reflect.TypeOf("")}
	alts := pingPongAlternatives()

	s := NewSerializer()
	s.WriteInt32(99) // no matching alternative

	dst := variant.New(types...)
	dst.Set(int32(1))
	d := NewDeserializer(s.Bytes())
	ReadUnion(d, dst, alts)

	if !dst.IsEmpty() {
		t.Error("out-of-range typeId must reset the union to empty, not leave stale state")
	}
}
