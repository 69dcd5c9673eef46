package tlswire

import "sync/atomic"

// RefCount backs the AddRef/Release ownership contract. The count starts at
// one; the Release that drops it to zero runs the finalizer synchronously,
// exactly once. Using an entity after its final Release is a caller bug and
// panics where it can be detected cheaply.
type RefCount struct {
	n        atomic.Int64
	finalize func()
}

// NewRefCount returns a count holding one reference. finalize may be nil.
func NewRefCount(finalize func()) *RefCount {
	rc := &RefCount{finalize: finalize}
	rc.n.Store(1)
	return rc
}

// AddRef acquires an additional reference.
func (r *RefCount) AddRef() {
	if r.n.Add(1) <= 1 {
		panic("tlswire: AddRef after final Release")
	}
}

// Release drops one reference, tearing the entity down when the count
// reaches zero.
func (r *RefCount) Release() {
	n := r.n.Add(-1)
	switch {
	case n < 0:
		panic("tlswire: Release without matching AddRef")
	case n == 0:
		if r.finalize != nil {
			r.finalize()
		}
	}
}

// Live reports whether at least one reference is still held.
func (r *RefCount) Live() bool {
	return r.n.Load() > 0
}
