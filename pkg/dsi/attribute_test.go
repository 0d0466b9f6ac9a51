package dsi

import (
	"testing"

	"github.com/dsi-runtime/dsi/internal/wire"
)

func TestServerAttributeSetAndInvalidate(t *testing.T) {
	var a ServerAttribute[int]
	if a.State() != NotAvailable {
		t.Fatalf("zero value state = %v, want NotAvailable", a.State())
	}
	a.Set(42)
	if a.State() != Ok || a.Value() != 42 {
		t.Errorf("after Set: state=%v value=%v, want Ok/42", a.State(), a.Value())
	}
	a.Invalidate()
	if a.State() != Invalid || a.Value() != 42 {
		t.Errorf("after Invalidate: state=%v value=%v, want Invalid/42 (value preserved)", a.State(), a.Value())
	}
}

func TestSequenceAttributeSetPartial(t *testing.T) {
	var a SequenceAttribute[string]
	if err := a.SetPartial(wire.PartialUpdate[string]{Type: wire.UpdateComplete, Delta: []string{"a", "b"}}); err != nil {
		t.Fatalf("SetPartial(Complete): %v", err)
	}
	if a.State() != Ok {
		t.Fatalf("state = %v, want Ok", a.State())
	}
	if err := a.SetPartial(wire.PartialUpdate[string]{Type: wire.UpdateInsert, Position: 1, Delta: []string{"x"}}); err != nil {
		t.Fatalf("SetPartial(Insert): %v", err)
	}
	got := a.Value()
	want := []string{"a", "x", "b"}
	if len(got) != len(want) {
		t.Fatalf("value = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClientAttributeLifecycle(t *testing.T) {
	var a ClientAttribute[int]
	if a.State() != NotAvailable {
		t.Fatalf("zero value state = %v, want NotAvailable", a.State())
	}
	a.ApplyOk(7)
	if a.State() != Ok || a.Value() != 7 {
		t.Errorf("after ApplyOk: state=%v value=%v", a.State(), a.Value())
	}
	a.ApplyInvalid()
	if a.State() != Invalid || a.Value() != 7 {
		t.Errorf("after ApplyInvalid: state=%v value=%v, want Invalid/7", a.State(), a.Value())
	}
	a.ResetNotAvailable()
	if a.State() != NotAvailable || a.Value() != 0 {
		t.Errorf("after ResetNotAvailable: state=%v value=%v, want NotAvailable/0", a.State(), a.Value())
	}
}

func TestClientSequenceAttributeApplyPartial(t *testing.T) {
	var a ClientSequenceAttribute[int]
	if err := a.ApplyPartial(wire.PartialUpdate[int]{Type: wire.UpdateComplete, Delta: []int{1, 2, 3}}); err != nil {
		t.Fatalf("ApplyPartial(Complete): %v", err)
	}
	if err := a.ApplyPartial(wire.PartialUpdate[int]{Type: wire.UpdateDelete, Position: 0, Count: 1}); err != nil {
		t.Fatalf("ApplyPartial(Delete): %v", err)
	}
	got := a.Value()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("value = %v, want [2 3]", got)
	}
	if a.State() != Ok {
		t.Errorf("state = %v, want Ok", a.State())
	}
}
