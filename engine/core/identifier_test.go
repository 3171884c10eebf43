package core

import (
	"testing"

	"github.com/cockroachdb/errors"
)

type testOwner struct{ name string }

func TestHandles(t *testing.T) {
	h := NewHandles()
	a := &testOwner{"a"}
	b := &testOwner{"b"}

	ha, labelA := h.Acquire(a)
	hb, labelB := h.Acquire(b)
	if ha == 0 || hb == 0 {
		t.Fatalf("zero handle handed out: %d %d", ha, hb)
	}
	if ha == hb || labelA == labelB {
		t.Fatalf("handles or labels collide: %d/%s %d/%s", ha, labelA, hb, labelB)
	}
	if h.Label(ha) != labelA {
		t.Errorf("Label(%d) = %q, want %q", ha, h.Label(ha), labelA)
	}

	got, err := Lookup[*testOwner](h, hb)
	if err != nil || got != b {
		t.Fatalf("Lookup(%d) = %v, %v", hb, got, err)
	}
	if _, err := Lookup[*Clock](h, hb); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Lookup with the wrong type: err = %v, want ErrInvalidState", err)
	}

	if err := h.Release(ha); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := h.Release(ha); err == nil {
		t.Error("double release accepted")
	}
	if _, err := Lookup[*testOwner](h, ha); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Lookup of a released handle: err = %v, want ErrInvalidState", err)
	}
	if h.Len() != 1 {
		t.Errorf("Len = %d, want 1", h.Len())
	}

	// freed slots are reused
	hc, _ := h.Acquire(&testOwner{"c"})
	if hc != ha {
		t.Errorf("new handle = %d, want the freed slot %d", hc, ha)
	}
	if err := h.Release(0); err == nil {
		t.Error("release of the zero handle accepted")
	}
}

func TestRefCount(t *testing.T) {
	released := 0
	var r RefCount
	r.InitRefCount(func() { released++ })
	r.Ref()
	if r.Unref() {
		t.Fatal("first Unref reported the last reference")
	}
	if !r.Unref() {
		t.Fatal("second Unref did not report the last reference")
	}
	if released != 1 {
		t.Errorf("release ran %d times, want 1", released)
	}
	if r.Unref() || released != 1 {
		t.Errorf("Unref below zero released again")
	}
}
