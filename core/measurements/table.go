package measurements

import (
	"sync"
)

// Table is a fixed size circular record table. Appending to a full table
// overwrites the oldest block. Flush hands the blocks appended since the
// previous flush to a callback, oldest first.
type Table[T any] struct {
	mu      sync.Mutex
	blocks  []T
	next    int
	pending int
	wrapped bool
}

func NewTable[T any](size int) *Table[T] {
	if size <= 0 {
		panic("invalid record table size")
	}
	return &Table[T]{blocks: make([]T, size)}
}

func (t *Table[T]) Len() int { return len(t.blocks) }

func (t *Table[T]) Append(b T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocks[t.next] = b
	t.next++
	if t.next == len(t.blocks) {
		t.next = 0
		t.wrapped = true
	}
	if t.pending < len(t.blocks) {
		t.pending++
	}
}

// Pending returns a copy of the blocks not yet flushed, oldest first.
func (t *Table[T]) Pending() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingLocked()
}

func (t *Table[T]) pendingLocked() []T {
	if t.pending == 0 {
		return nil
	}
	out := make([]T, 0, t.pending)
	start := t.next - t.pending
	if start < 0 {
		if !t.wrapped {
			panic("unexpected record table state")
		}
		out = append(out, t.blocks[len(t.blocks)+start:]...)
		start = 0
	}
	return append(out, t.blocks[start:t.next]...)
}

// Flush passes each pending block to f, oldest first. The table lock is not
// held while f runs. Flushing stops at the first error; blocks not accepted
// stay pending.
func (t *Table[T]) Flush(f func(T) error) (int, error) {
	t.mu.Lock()
	blocks := t.pendingLocked()
	t.pending = 0
	t.mu.Unlock()

	for i, b := range blocks {
		if err := f(b); err != nil {
			t.mu.Lock()
			t.pending = min(len(t.blocks), t.pending+len(blocks)-i)
			t.mu.Unlock()
			return i, err
		}
	}
	return len(blocks), nil
}
