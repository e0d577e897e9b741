package grid

import "sort"

// SlotBinding pairs a render slot with the dataset index it now shows.
type SlotBinding struct {
	Slot  int
	Index int
}

// Changes is the reconciliation outcome: slots to rebind and slots whose
// previous content left the window. Release is reported before Assign is
// applied, so a released slot may also appear in Assign with a new index.
type Changes struct {
	Assign  []SlotBinding
	Release []int
}

// Recycler maps the live index range onto a fixed pool of render slots.
// Slots are identified by small integers; the pool never grows during
// reconciliation, only via an explicit Resize when the host relaid out.
type Recycler struct {
	lastIndex []int       // slot -> last bound index, -1 if never bound
	bound     []bool      // slot -> currently bound
	indexSlot map[int]int // bound index -> slot
}

// NewRecycler creates a pool of size slots, all free.
func NewRecycler(size int) *Recycler {
	if size < 0 {
		size = 0
	}
	r := &Recycler{
		lastIndex: make([]int, size),
		bound:     make([]bool, size),
		indexSlot: make(map[int]int, size),
	}
	for i := range r.lastIndex {
		r.lastIndex[i] = -1
	}
	return r
}

// Size returns the pool size.
func (r *Recycler) Size() int { return len(r.lastIndex) }

// SlotFor returns the slot currently bound to index.
func (r *Recycler) SlotFor(index int) (int, bool) {
	s, ok := r.indexSlot[index]
	return s, ok
}

// IndexAt returns the index bound to slot, or -1 if the slot is free.
func (r *Recycler) IndexAt(slot int) int {
	if slot < 0 || slot >= len(r.bound) || !r.bound[slot] {
		return -1
	}
	return r.lastIndex[slot]
}

// Resize grows or shrinks the pool. Shrinking releases the highest slot ids
// first; their indices are rebound on the next Reconcile.
func (r *Recycler) Resize(size int) {
	if size < 0 {
		size = 0
	}
	for size < len(r.lastIndex) {
		slot := len(r.lastIndex) - 1
		if r.bound[slot] {
			delete(r.indexSlot, r.lastIndex[slot])
		}
		r.lastIndex = r.lastIndex[:slot]
		r.bound = r.bound[:slot]
	}
	for size > len(r.lastIndex) {
		r.lastIndex = append(r.lastIndex, -1)
		r.bound = append(r.bound, false)
	}
}

// Reconcile updates the index->slot mapping for the new window. Slots whose
// index left the live range are released; unbound in-range indices are
// assigned to free slots, cheapest move first: the free slot whose previous
// index is closest wins, ties broken by ascending slot id.
//
// An invalid window fails with a ConfigurationError and mutates nothing.
// A window larger than the pool binds the pool-size prefix of the range and
// leaves the rest for the next reconcile after the host resized the pool.
func (r *Recycler) Reconcile(w Window) (Changes, error) {
	if w.BufferBefore < 0 || w.BufferAfter < 0 {
		return Changes{}, configErrorf("window buffers %d/%d are negative", w.BufferBefore, w.BufferAfter)
	}
	if w.End < w.Start-1 {
		return Changes{}, configErrorf("window start %d after end %d", w.Start, w.End)
	}
	if w.Len() > 0 && w.First() < 0 {
		return Changes{}, configErrorf("window first index %d is negative", w.First())
	}

	var ch Changes

	// Release pass: everything bound outside the live range frees its slot.
	for index, slot := range r.indexSlot {
		if w.Contains(index) {
			continue
		}
		delete(r.indexSlot, index)
		r.bound[slot] = false
		ch.Release = append(ch.Release, slot)
	}
	sort.Ints(ch.Release)

	if w.Len() == 0 {
		return ch, nil
	}

	var needed []int
	for i := w.First(); i <= w.Last(); i++ {
		if _, ok := r.indexSlot[i]; !ok {
			needed = append(needed, i)
		}
	}

	for _, index := range needed {
		slot := r.claimSlot(index)
		if slot < 0 {
			// Pool exhausted; the host reconciles again once it resized.
			break
		}
		r.indexSlot[index] = slot
		r.lastIndex[slot] = index
		r.bound[slot] = true
		ch.Assign = append(ch.Assign, SlotBinding{Slot: slot, Index: index})
	}

	return ch, nil
}

// claimSlot picks the free slot with the smallest distance traveled to
// index. Never-used slots count as farthest, so warm slots are preferred.
func (r *Recycler) claimSlot(index int) int {
	best := -1
	bestDist := -1
	for slot := range r.bound {
		if r.bound[slot] {
			continue
		}
		dist := int(^uint(0) >> 1) // never bound
		if r.lastIndex[slot] >= 0 {
			dist = r.lastIndex[slot] - index
			if dist < 0 {
				dist = -dist
			}
		}
		if best == -1 || dist < bestDist {
			best = slot
			bestDist = dist
		}
	}
	return best
}
