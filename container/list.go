// Package container holds the small index-addressed structures shared by
// the grammar compiler: an arena-backed linked list, a disjoint-set over
// arbitrary keys, and a compressed-sparse-row array.
package container

// List is a circular doubly linked list whose nodes live in a single
// slab and are addressed by small integer handles. Handle 0 is the
// permanent anchor node and is never returned for an element. Erased
// handles are recycled through a free list, so a handle is only valid
// until the element it names is erased. Handles from different lists
// must not be compared.
type List[T any] struct {
	nodes []listNode[T]
	free  []int32
	size  int
}

type listNode[T any] struct {
	prev, next int32
	value      T
}

// NewList returns an empty list with capacity reserved for n elements.
func NewList[T any](n int) *List[T] {
	l := &List[T]{nodes: make([]listNode[T], 1, n+1)}
	return l
}

// Len reports the number of live elements.
func (l *List[T]) Len() int { return l.size }

// Front returns the handle of the first element, or 0 if the list is
// empty.
func (l *List[T]) Front() int32 { return l.nodes[0].next }

// Next returns the handle following h, or 0 past the last element.
func (l *List[T]) Next(h int32) int32 { return l.nodes[h].next }

// At returns a pointer to the element named by h. The pointer is
// invalidated by the next PushBack.
func (l *List[T]) At(h int32) *T { return &l.nodes[h].value }

// PushBack appends v and returns its handle.
func (l *List[T]) PushBack(v T) int32 {
	h := l.allocate()
	l.nodes[h].value = v
	l.insertBefore(h, 0)
	l.size++
	return h
}

// MoveBack unlinks h and reinserts it at the tail without touching its
// storage. The handle stays valid.
func (l *List[T]) MoveBack(h int32) {
	l.unlink(h)
	l.insertBefore(h, 0)
}

// Erase removes the element named by h and returns the handle of the
// next live element, or 0 if h was last. h is recycled and must not be
// used again.
func (l *List[T]) Erase(h int32) int32 {
	next := l.nodes[h].next
	l.unlink(h)
	var zero T
	l.nodes[h].value = zero
	l.free = append(l.free, h)
	l.size--
	return next
}

// Clear resets the list to empty, releasing all elements. All handles
// become invalid.
func (l *List[T]) Clear() {
	l.nodes = l.nodes[:1]
	l.nodes[0] = listNode[T]{}
	l.free = l.free[:0]
	l.size = 0
}

func (l *List[T]) allocate() int32 {
	if n := len(l.free); n > 0 {
		h := l.free[n-1]
		l.free = l.free[:n-1]
		return h
	}
	l.nodes = append(l.nodes, listNode[T]{})
	return int32(len(l.nodes) - 1)
}

func (l *List[T]) insertBefore(h, next int32) {
	prev := l.nodes[next].prev
	l.nodes[h].prev = prev
	l.nodes[h].next = next
	l.nodes[prev].next = h
	l.nodes[next].prev = h
}

func (l *List[T]) unlink(h int32) {
	prev := l.nodes[h].prev
	next := l.nodes[h].next
	l.nodes[prev].next = next
	l.nodes[next].prev = prev
}
