package evaluator

import "sort"

// TodoList is the set of slots waiting to be recalculated. it keeps
// insertion order unless sorted; each slot appears at most once.
type TodoList struct {
	entries []SLR
	live    []bool
	index   map[SLR]int
	head    int
	count   int
}

// NewTodoList creates an empty list
func NewTodoList() *TodoList {
	return &TodoList{index: make(map[SLR]int)}
}

// Add queues a slot. it reports false when the slot was already queued.
func (tl *TodoList) Add(s SLR) bool {
	s = s.Plain()
	if _, ok := tl.index[s]; ok {
		return false
	}
	tl.index[s] = len(tl.entries)
	tl.entries = append(tl.entries, s)
	tl.live = append(tl.live, true)
	tl.count++
	return true
}

// Remove takes a slot off the list
func (tl *TodoList) Remove(s SLR) bool {
	s = s.Plain()
	i, ok := tl.index[s]
	if !ok {
		return false
	}
	delete(tl.index, s)
	tl.live[i] = false
	tl.count--
	if tl.count == 0 {
		tl.reset()
	}
	return true
}

// Contains checks whether a slot is queued
func (tl *TodoList) Contains(s SLR) bool {
	_, ok := tl.index[s.Plain()]
	return ok
}

// Next returns the first queued slot without removing it
func (tl *TodoList) Next() (SLR, bool) {
	for tl.head < len(tl.entries) && !tl.live[tl.head] {
		tl.head++
	}
	if tl.head >= len(tl.entries) {
		return SLR{}, false
	}
	if tl.head > 1024 && tl.head > len(tl.entries)/2 {
		tl.compact()
	}
	return tl.entries[tl.head], true
}

// Len returns the number of queued slots
func (tl *TodoList) Len() int {
	return tl.count
}

// Sort orders the queue by document, row and column
func (tl *TodoList) Sort() {
	slots := tl.Slots()
	sort.Slice(slots, func(i, j int) bool { return slots[i].Less(slots[j]) })
	tl.reset()
	for _, s := range slots {
		tl.Add(s)
	}
}

// Slots returns the queued slots in queue order
func (tl *TodoList) Slots() []SLR {
	out := make([]SLR, 0, tl.count)
	for i := tl.head; i < len(tl.entries); i++ {
		if tl.live[i] {
			out = append(out, tl.entries[i])
		}
	}
	return out
}

// RemoveDoc drops every queued slot of doc
func (tl *TodoList) RemoveDoc(doc DocNo) int {
	n := 0
	for _, s := range tl.Slots() {
		if s.Doc == doc && tl.Remove(s) {
			n++
		}
	}
	return n
}

// Clear empties the list
func (tl *TodoList) Clear() {
	tl.reset()
}

func (tl *TodoList) reset() {
	tl.entries = tl.entries[:0]
	tl.live = tl.live[:0]
	clear(tl.index)
	tl.head = 0
	tl.count = 0
}

func (tl *TodoList) compact() {
	slots := tl.Slots()
	tl.reset()
	for _, s := range slots {
		tl.Add(s)
	}
}
