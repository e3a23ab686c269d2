package camsync

// keyed is implemented by cached records.
type keyed interface {
	Key() string
}

// boundedList keeps records newest first, capped at bound. It is not safe for
// concurrent use; the Reconciler serializes access.
type boundedList[T keyed] struct {
	bound int
	items []T
	keys  map[string]struct{}
}

func newBoundedList[T keyed](bound int) *boundedList[T] {
	if bound < 1 {
		bound = 1
	}
	return &boundedList[T]{
		bound: bound,
		items: make([]T, 0, bound),
		keys:  make(map[string]struct{}, bound),
	}
}

// Prepend inserts item at the front. It reports whether the item was new and how
// many entries were evicted from the tail.
func (l *boundedList[T]) Prepend(item T) (added bool, evicted int) {
	k := item.Key()
	if _, ok := l.keys[k]; ok {
		return false, 0
	}
	l.items = append(l.items, item)
	copy(l.items[1:], l.items)
	l.items[0] = item
	l.keys[k] = struct{}{}
	return true, l.trim()
}

// Replace swaps the whole list, keeping the first occurrence of each key.
func (l *boundedList[T]) Replace(items []T) (evicted int) {
	l.items = l.items[:0]
	clear(l.keys)
	for _, it := range items {
		k := it.Key()
		if _, ok := l.keys[k]; ok {
			continue
		}
		l.keys[k] = struct{}{}
		l.items = append(l.items, it)
	}
	return l.trim()
}

func (l *boundedList[T]) trim() int {
	n := len(l.items) - l.bound
	if n <= 0 {
		return 0
	}
	for _, it := range l.items[l.bound:] {
		delete(l.keys, it.Key())
	}
	var zero T
	for i := l.bound; i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = l.items[:l.bound]
	return n
}

func (l *boundedList[T]) Len() int { return len(l.items) }

func (l *boundedList[T]) At(i int) (T, bool) {
	if i < 0 || i >= len(l.items) {
		var zero T
		return zero, false
	}
	return l.items[i], true
}

// Find returns the record with key and its current index.
func (l *boundedList[T]) Find(key string) (T, int, bool) {
	if _, ok := l.keys[key]; ok {
		for i, it := range l.items {
			if it.Key() == key {
				return it, i, true
			}
		}
	}
	var zero T
	return zero, -1, false
}

func (l *boundedList[T]) Snapshot() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}
