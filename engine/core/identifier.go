package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies an object registered in a Handles table. The zero value
// is never handed out.
type Handle uint32

type handleEntry struct {
	owner interface{}
	label string
}

// Handles maps opaque handles to their owning objects. Freed slots are
// reused first, new slots are appended.
type Handles struct {
	mu      sync.RWMutex
	entries []*handleEntry
}

func NewHandles() *Handles {
	return &Handles{
		// slot 0 stays empty so that Handle(0) means "no object"
		entries: make([]*handleEntry, 1, 64),
	}
}

// Acquire registers owner and returns its handle along with a unique label
// used in log lines.
func (h *Handles) Acquire(owner interface{}) (Handle, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := &handleEntry{owner: owner, label: uuid.NewString()}
	for i := 1; i < len(h.entries); i++ {
		// Existing free spot. Take it.
		if h.entries[i] == nil {
			h.entries[i] = entry
			return Handle(i), entry.label
		}
	}
	h.entries = append(h.entries, entry)
	return Handle(len(h.entries) - 1), entry.label
}

// Release frees the slot of id.
func (h *Handles) Release(id Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id == 0 || int(id) >= len(h.entries) || h.entries[id] == nil {
		return fmt.Errorf("handle %d is not registered", id)
	}
	h.entries[id] = nil
	return nil
}

// Len returns the number of live handles.
func (h *Handles) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, e := range h.entries {
		if e != nil {
			n++
		}
	}
	return n
}

func (h *Handles) get(id Handle) (*handleEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if int(id) >= len(h.entries) || h.entries[id] == nil {
		return nil, false
	}
	return h.entries[id], true
}

// Lookup resolves id and checks that the registered object is a T.
func Lookup[T any](h *Handles, id Handle) (T, error) {
	var zero T
	e, ok := h.get(id)
	if !ok {
		return zero, Errorf(ErrInvalidState, "handle %d is not registered", id)
	}
	v, ok := e.owner.(T)
	if !ok {
		return zero, Errorf(ErrInvalidState, "handle %d (%s) holds %T, not %T", id, e.label, e.owner, zero)
	}
	return v, nil
}

// Label returns the label assigned to id, or an empty string.
func (h *Handles) Label(id Handle) string {
	if e, ok := h.get(id); ok {
		return e.label
	}
	return ""
}
