package wire

import (
	"reflect"
	"testing"
)

func writeStr(s *Serializer, v string) { s.WriteString(v) }
func readStr(d *Deserializer) string   { return d.ReadString() }

func TestPartialUpdateRoundTrip(t *testing.T) {
	u := PartialUpdate[string]{
		Type:     UpdateInsert,
		Position: 2,
		Count:    3,
		Delta:    []string{"einundzwanzig", "zweiundzwanzig", "dreiundzwanzig"},
	}

	s := NewSerializer()
	WritePartialUpdate(s, u, writeStr)

	d := NewDeserializer(s.Bytes())
	got := ReadPartialUpdate(d, readStr)

	if d.Err() != nil {
		t.Fatalf("unexpected error: %v", d.Err())
	}
	if got.Type != u.Type || got.Position != u.Position || got.Count != u.Count {
		t.Fatalf("header mismatch: got %+v, want %+v", got, u)
	}
	if !reflect.DeepEqual(got.Delta, u.Delta) {
		t.Errorf("delta mismatch: got %v, want %v", got.Delta, u.Delta)
	}
}

func TestPartialUpdateDeleteEncodesEmptyDelta(t *testing.T) {
	u := PartialUpdate[string]{Type: UpdateDelete, Position: 1, Count: 2}
	s := NewSerializer()
	WritePartialUpdate(s, u, writeStr)

	d := NewDeserializer(s.Bytes())
	got := ReadPartialUpdate(d, readStr)
	if len(got.Delta) != 0 {
		t.Errorf("DELETE delta = %v, want empty", got.Delta)
	}
}

func attrSeed() []string {
	return []string{"Eins", "Zwei", "Drei", "Vier", "Fuenf", "Sechs"}
}

func TestApplyComplete(t *testing.T) {
	delta := []string{"a", "b"}
	got, err := Apply(attrSeed(), PartialUpdate[string]{Type: UpdateComplete, Position: 0, Count: int16(len(delta)), Delta: delta})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, delta) {
		t.Errorf("COMPLETE result = %v, want %v", got, delta)
	}
}

func TestApplyInsert(t *testing.T) {
	// Scenario 5 from spec.md 8.
	prev := attrSeed()
	delta := []string{"einundzwanzig", "zweiundzwanzig", "dreiundzwanzig"}
	want := []string{"Eins", "Zwei", "einundzwanzig", "zweiundzwanzig", "dreiundzwanzig", "Drei", "Vier", "Fuenf", "Sechs"}

	got, err := Apply(prev, PartialUpdate[string]{Type: UpdateInsert, Position: 2, Count: int16(len(delta)), Delta: delta})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("INSERT@2 result = %v, want %v", got, want)
	}
}

func TestApplyReplace(t *testing.T) {
	prev := attrSeed()
	delta := []string{"X", "Y"}
	got, err := Apply(prev, PartialUpdate[string]{Type: UpdateReplace, Position: 1, Count: 2, Delta: delta})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Eins", "X", "Y", "Vier", "Fuenf", "Sechs"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("REPLACE@1 result = %v, want %v", got, want)
	}
}

func TestApplyReplacePastEndIsError(t *testing.T) {
	prev := attrSeed()
	delta := []string{"X", "Y", "Z", "W"}
	if _, err := Apply(prev, PartialUpdate[string]{Type: UpdateReplace, Position: 4, Count: 4, Delta: delta}); err == nil {
		t.Error("expected error when replace range exceeds sequence length")
	}
}

func TestApplyDelete(t *testing.T) {
	prev := attrSeed()
	got, err := Apply(prev, PartialUpdate[string]{Type: UpdateDelete, Position: 1, Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Eins", "Vier", "Fuenf", "Sechs"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DELETE@1,2 result = %v, want %v", got, want)
	}
}

func TestApplyDeleteNegativeCountDeletesToEnd(t *testing.T) {
	prev := attrSeed()
	got, err := Apply(prev, PartialUpdate[string]{Type: UpdateDelete, Position: 2, Count: -1})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Eins", "Zwei"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DELETE@2,-1 result = %v, want %v", got, want)
	}
}
