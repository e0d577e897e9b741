package grid

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Selection tracks the set of selected dataset indices. Selection is
// defined over indices, not render slots, so it survives scrolling; it is
// re-indexed on deletion and insertion so it always references the current
// dataset.
type Selection struct {
	mu     sync.Mutex
	set    map[int]struct{}
	anchor int // shift-extend origin, -1 when unset
	total  int

	onChange func([]int)
	log      zerolog.Logger
}

// NewSelection creates an empty selection over total items.
func NewSelection(total int, log zerolog.Logger) *Selection {
	if total < 0 {
		total = 0
	}
	return &Selection{
		set:    make(map[int]struct{}),
		anchor: -1,
		total:  total,
		log:    log,
	}
}

// OnChange registers a callback invoked with the sorted selected indices
// after every mutation that changed the set.
func (s *Selection) OnChange(fn func([]int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetTotal updates the dataset size and prunes indices that fell out of
// range.
func (s *Selection) SetTotal(total int) {
	if total < 0 {
		total = 0
	}
	s.mu.Lock()
	s.total = total
	changed := false
	for i := range s.set {
		if i >= total {
			delete(s.set, i)
			changed = true
		}
	}
	if s.anchor >= total {
		s.anchor = -1
	}
	s.notifyLocked(changed)
}

// Select replaces the selection with the single index i.
func (s *Selection) Select(i int) {
	s.mu.Lock()
	if !s.validLocked(i) {
		s.mu.Unlock()
		return
	}
	_, had := s.set[i]
	changed := !had || len(s.set) != 1
	s.set = map[int]struct{}{i: {}}
	s.anchor = i
	s.notifyLocked(changed)
}

// Toggle flips membership of index i.
func (s *Selection) Toggle(i int) {
	s.mu.Lock()
	if !s.validLocked(i) {
		s.mu.Unlock()
		return
	}
	if _, ok := s.set[i]; ok {
		delete(s.set, i)
	} else {
		s.set[i] = struct{}{}
	}
	s.anchor = i
	s.notifyLocked(true)
}

// SelectRange adds every index in [a, b] (either order) to the selection.
func (s *Selection) SelectRange(a, b int) {
	s.mu.Lock()
	if s.total == 0 {
		s.mu.Unlock()
		return
	}
	if a > b {
		a, b = b, a
	}
	a = s.clampLocked(a)
	b = s.clampLocked(b)
	changed := false
	for i := a; i <= b; i++ {
		if _, ok := s.set[i]; !ok {
			s.set[i] = struct{}{}
			changed = true
		}
	}
	s.notifyLocked(changed)
}

// Extend replaces the selection with the range from the anchor to i,
// mirroring shift-click. Without an anchor it behaves like Select.
func (s *Selection) Extend(i int) {
	s.mu.Lock()
	if !s.validLocked(i) {
		s.mu.Unlock()
		return
	}
	anchor := s.anchor
	if anchor < 0 {
		anchor = i
	}
	a, b := anchor, i
	if a > b {
		a, b = b, a
	}
	s.set = make(map[int]struct{}, b-a+1)
	for j := a; j <= b; j++ {
		s.set[j] = struct{}{}
	}
	s.anchor = anchor
	s.notifyLocked(true)
}

// Replace swaps the selection for exactly the given indices, used by
// drag-rectangle selection. Out-of-range indices are dropped.
func (s *Selection) Replace(indices []int) {
	s.mu.Lock()
	next := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i >= 0 && i < s.total {
			next[i] = struct{}{}
		}
	}
	changed := len(next) != len(s.set)
	if !changed {
		for i := range next {
			if _, ok := s.set[i]; !ok {
				changed = true
				break
			}
		}
	}
	s.set = next
	if len(indices) > 0 {
		s.anchor = indices[len(indices)-1]
	}
	s.notifyLocked(changed)
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	changed := len(s.set) > 0
	s.set = make(map[int]struct{})
	s.anchor = -1
	s.notifyLocked(changed)
}

// AdjustForDeletion removes index from the selection and shifts every
// selected index greater than it down by one.
func (s *Selection) AdjustForDeletion(index int) {
	s.mu.Lock()
	if index < 0 || index >= s.total {
		s.log.Debug().Int("index", index).Int("total", s.total).Msg("selection: deletion index out of range")
		s.mu.Unlock()
		return
	}
	next := make(map[int]struct{}, len(s.set))
	changed := false
	for i := range s.set {
		switch {
		case i < index:
			next[i] = struct{}{}
		case i == index:
			changed = true
		default:
			next[i-1] = struct{}{}
			changed = true
		}
	}
	s.set = next
	s.total--
	if s.anchor == index {
		s.anchor = -1
	} else if s.anchor > index {
		s.anchor--
	}
	s.notifyLocked(changed)
}

// AdjustForInsertion shifts every selected index >= index up by one.
func (s *Selection) AdjustForInsertion(index int) {
	s.mu.Lock()
	if index < 0 || index > s.total {
		s.log.Debug().Int("index", index).Int("total", s.total).Msg("selection: insertion index out of range")
		s.mu.Unlock()
		return
	}
	next := make(map[int]struct{}, len(s.set))
	changed := false
	for i := range s.set {
		if i >= index {
			next[i+1] = struct{}{}
			changed = true
		} else {
			next[i] = struct{}{}
		}
	}
	s.set = next
	s.total++
	if s.anchor >= index {
		s.anchor++
	}
	s.notifyLocked(changed)
}

// IsSelected reports membership of index i.
func (s *Selection) IsSelected(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[i]
	return ok
}

// Count returns the number of selected indices.
func (s *Selection) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

// Indices returns the selected indices in ascending order.
func (s *Selection) Indices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Selection) sortedLocked() []int {
	out := make([]int, 0, len(s.set))
	for i := range s.set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (s *Selection) validLocked(i int) bool {
	if i >= 0 && i < s.total {
		return true
	}
	s.log.Debug().Int("index", i).Int("total", s.total).Msg("selection: index out of range")
	return false
}

func (s *Selection) clampLocked(i int) int {
	if i < 0 {
		return 0
	}
	if i > s.total-1 {
		return s.total - 1
	}
	return i
}

// notifyLocked releases the mutex and fires the change callback outside it.
func (s *Selection) notifyLocked(changed bool) {
	fn := s.onChange
	var snapshot []int
	if changed && fn != nil {
		snapshot = s.sortedLocked()
	}
	s.mu.Unlock()
	if changed && fn != nil {
		fn(snapshot)
	}
}
