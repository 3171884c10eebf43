package core

import "sync/atomic"

// RefCount is embedded by objects shared between several owners, such as a
// set layout referenced by sets and pipeline layouts. The release callback
// runs once, when the last reference is dropped.
type RefCount struct {
	refs    atomic.Int32
	release func()
}

// InitRefCount sets the count to one and installs the release callback.
func (r *RefCount) InitRefCount(release func()) {
	r.refs.Store(1)
	r.release = release
}

func (r *RefCount) Ref() {
	r.refs.Add(1)
}

// Unref drops one reference and reports whether it was the last one.
func (r *RefCount) Unref() bool {
	n := r.refs.Add(-1)
	if n < 0 {
		LogError("refcount dropped below zero")
		return false
	}
	if n == 0 {
		if r.release != nil {
			r.release()
		}
		return true
	}
	return false
}

func (r *RefCount) Refs() int32 {
	return r.refs.Load()
}
