package containers

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestRingQueue(t *testing.T) {
	rq := NewRingQueue[int](3)
	if _, err := rq.Peek(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Peek on empty queue: err = %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	if !rq.IsFull() {
		t.Fatal("queue not full after three enqueues")
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full queue: err = %v", err)
	}

	// wrap around
	if v, _ := rq.Dequeue(); v != 1 {
		t.Fatalf("Dequeue = %d, want 1", v)
	}
	if err := rq.Enqueue(4); err != nil {
		t.Fatalf("Enqueue after dequeue: %v", err)
	}
	for _, want := range []int{2, 3, 4} {
		if v, _ := rq.Peek(); v != want {
			t.Errorf("Peek = %d, want %d", v, want)
		}
		v, err := rq.Dequeue()
		if err != nil || v != want {
			t.Errorf("Dequeue = %d, %v, want %d", v, err, want)
		}
	}
	if !rq.IsEmpty() || rq.Len() != 0 {
		t.Errorf("queue not empty: len %d", rq.Len())
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Dequeue on empty queue: err = %v", err)
	}
}

func TestRingQueueMinimumSize(t *testing.T) {
	rq := NewRingQueue[string](0)
	if err := rq.Enqueue("a"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !rq.IsFull() {
		t.Error("size zero queue should hold one element")
	}
}
