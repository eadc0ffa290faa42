package mvcc

import (
	"sync"
	"sync/atomic"
)

// pin counts the holders of one snapshot. A count of -1 marks a retired pin
// that is about to leave the map; Acquire never revives it.
type pin struct {
	count atomic.Int64
}

// Registry is the set of snapshot ids currently in use, with a holder count
// per id. All methods are safe for concurrent use and never block each
// other.
type Registry struct {
	pins    sync.Map // uint64 -> *pin
	holders atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Acquire registers one more holder of snapshot id.
func (r *Registry) Acquire(id uint64) {
	for {
		v, _ := r.pins.LoadOrStore(id, &pin{})
		p := v.(*pin)
		for {
			n := p.count.Load()
			if n < 0 {
				break
			}
			if p.count.CompareAndSwap(n, n+1) {
				r.holders.Add(1)
				return
			}
		}
		// Lost a race with the last Release; drop the retired pin and retry.
		r.pins.CompareAndDelete(id, p)
	}
}

// Release removes one holder of snapshot id. It returns false if id was not
// registered.
func (r *Registry) Release(id uint64) bool {
	v, ok := r.pins.Load(id)
	if !ok {
		return false
	}
	p := v.(*pin)
	for {
		n := p.count.Load()
		if n <= 0 {
			return false
		}
		if p.count.CompareAndSwap(n, n-1) {
			r.holders.Add(-1)
			if n == 1 && p.count.CompareAndSwap(0, -1) {
				r.pins.CompareAndDelete(id, p)
			}
			return true
		}
	}
}

// Count returns the number of holders of snapshot id.
func (r *Registry) Count(id uint64) int {
	v, ok := r.pins.Load(id)
	if !ok {
		return 0
	}
	return int(max(v.(*pin).count.Load(), 0))
}

// Oldest returns the smallest registered snapshot id.
func (r *Registry) Oldest() (uint64, bool) {
	var oldest uint64
	found := false
	r.pins.Range(func(k, v any) bool {
		id := k.(uint64)
		if v.(*pin).count.Load() > 0 && (!found || id < oldest) {
			oldest = id
			found = true
		}
		return true
	})
	return oldest, found
}

// Len returns the total number of holders across all ids.
func (r *Registry) Len() int {
	return int(r.holders.Load())
}
