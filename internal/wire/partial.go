package wire

import "fmt"

// PartialUpdate is the wire payload for a sequence-valued attribute update:
// UpdateType(int32) | position(int16) | count(int16) | deltaSequence.
// DELETE always encodes a zero-length delta; every other update type
// encodes count elements.
type PartialUpdate[T any] struct {
	Type     UpdateType
	Position int16
	Count    int16
	Delta    []T
}

// WritePartialUpdate encodes u, delegating element encoding to write.
func WritePartialUpdate[T any](s *Serializer, u PartialUpdate[T], write func(*Serializer, T)) {
	s.WriteInt32(int32(u.Type))
	s.WriteInt16(u.Position)
	s.WriteInt16(u.Count)
	if u.Type == UpdateDelete {
		s.WriteInt32(0)
		return
	}
	WriteSequence(s, u.Delta, write)
}

// ReadPartialUpdate decodes a PartialUpdate written by WritePartialUpdate.
func ReadPartialUpdate[T any](d *Deserializer, read func(*Deserializer) T) PartialUpdate[T] {
	u := PartialUpdate[T]{
		Type:     UpdateType(d.ReadInt32()),
		Position: d.ReadInt16(),
		Count:    d.ReadInt16(),
	}
	u.Delta = ReadSequence(d, read)
	return u
}

// Apply reconstructs a client-side sequence attribute from its previous
// value and a partial update, per spec.md 8's partial-update laws:
//
//   - COMPLETE:    result is exactly u.Delta.
//   - INSERT@pos:  result is prev[:pos] ++ delta ++ prev[pos:].
//   - REPLACE@pos: result is prev[:pos] ++ delta ++ prev[pos+len(delta):];
//     requires pos+len(delta) <= len(prev).
//   - DELETE@pos,cnt: removes cnt elements starting at pos; cnt<0 deletes
//     through the end of the sequence.
//
// A negative position is clamped to 0. Apply returns an error instead of
// panicking on a position/count combination that would index out of range,
// since the update arrives over the wire and may be malformed.
func Apply[T any](prev []T, u PartialUpdate[T]) ([]T, error) {
	pos := int(u.Position)
	if pos < 0 {
		pos = 0
	}

	switch u.Type {
	case UpdateComplete:
		out := make([]T, len(u.Delta))
		copy(out, u.Delta)
		return out, nil

	case UpdateInsert:
		if pos > len(prev) {
			return nil, fmt.Errorf("wire: insert position %d exceeds length %d", pos, len(prev))
		}
		out := make([]T, 0, len(prev)+len(u.Delta))
		out = append(out, prev[:pos]...)
		out = append(out, u.Delta...)
		out = append(out, prev[pos:]...)
		return out, nil

	case UpdateReplace:
		end := pos + len(u.Delta)
		if end > len(prev) {
			return nil, fmt.Errorf("wire: replace range [%d,%d) exceeds length %d", pos, end, len(prev))
		}
		out := make([]T, 0, len(prev))
		out = append(out, prev[:pos]...)
		out = append(out, u.Delta...)
		out = append(out, prev[end:]...)
		return out, nil

	case UpdateDelete:
		if pos > len(prev) {
			return nil, fmt.Errorf("wire: delete position %d exceeds length %d", pos, len(prev))
		}
		cnt := int(u.Count)
		end := pos + cnt
		if cnt < 0 || end > len(prev) {
			end = len(prev)
		}
		out := make([]T, 0, len(prev)-(end-pos))
		out = append(out, prev[:pos]...)
		out = append(out, prev[end:]...)
		return out, nil

	default:
		return nil, fmt.Errorf("wire: unknown update type %d", u.Type)
	}
}
