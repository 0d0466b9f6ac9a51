package wire

import "github.com/dsi-runtime/dsi/internal/variant"

// UnionAlternative pairs an encoder/decoder for one alternative of a tagged
// union, in the same declaration order the variant.Variant was constructed
// with.
type UnionAlternative struct {
	Encode func(*Serializer, interface{})
	Decode func(*Deserializer) interface{}
}

// WriteUnion encodes v as spec.md 4.A describes: int32 typeId, then (if
// non-empty) the active alternative's payload via the matching encoder.
func WriteUnion(s *Serializer, v *variant.Variant, alts []UnionAlternative) {
	id := v.CurrentTypeID()
	s.WriteInt32(int32(id))
	if id == 0 {
		return
	}
	alts[id-1].Encode(s, v.Value())
}

// ReadUnion decodes a typeId and, if in range, the matching alternative's
// payload, installing it into v. An out-of-range or zero typeId resets v to
// empty and consumes no further bytes -- spec.md 4.A's "unknown typeId
// resets to empty" rule, implemented by variant.Variant.DecodeSet itself.
func ReadUnion(d *Deserializer, v *variant.Variant, alts []UnionAlternative) {
	id := int(d.ReadInt32())
	if d.Err() != nil {
		v.Reset()
		return
	}
	if id <= 0 || id > len(alts) {
		v.DecodeSet(id, nil)
		return
	}
	val := alts[id-1].Decode(d)
	if d.Err() != nil {
		v.Reset()
		return
	}
	v.DecodeSet(id, val)
}
