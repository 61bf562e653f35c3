package logbuf

import (
	"errors"
	"sync"
)

// DefaultCapacity is the number of engine log lines retained.
const DefaultCapacity = 1000

// ErrReaderAttached is returned by Attach while another exclusive reader holds the slot.
var ErrReaderAttached = errors.New("log buffer already has an attached reader")

// Buffer is a bounded, ordered buffer of log lines. Every line gets a
// monotonically increasing sequence number; once the buffer is full the
// oldest lines are overwritten.
//
// Lines are consumed through readers. At most one exclusive reader (the
// destructive consumer) may be attached at a time; followers may read
// alongside it without claiming the slot.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	start    int
	count    int
	total    uint64
	attached bool
	changed  chan struct{}
}

// New creates a buffer holding up to capacity lines.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		lines:   make([]string, capacity),
		changed: make(chan struct{}),
	}
}

// Push appends a line and wakes everyone waiting on Changed.
func (b *Buffer) Push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.lines)
	if b.count < capacity {
		b.lines[(b.start+b.count)%capacity] = line
		b.count++
	} else {
		b.lines[b.start] = line
		b.start = (b.start + 1) % capacity
	}
	b.total++

	close(b.changed)
	b.changed = make(chan struct{})
}

// Changed returns a channel closed on the next Push. Grab it before
// draining so a line pushed in between is not missed.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// Attached reports whether the exclusive slot is taken.
func (b *Buffer) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

// Attach claims the exclusive reader slot. The reader starts with up to
// backlog of the most recent retained lines, then sees everything pushed
// after the call. Close releases the slot.
func (b *Buffer) Attach(backlog int) (*Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return nil, ErrReaderAttached
	}
	b.attached = true
	backlog = min(max(backlog, 0), b.count)
	return &Reader{buf: b, next: b.total - uint64(backlog), exclusive: true}, nil
}

// Follow returns a non-exclusive reader positioned at the current end.
func (b *Buffer) Follow() *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Reader{buf: b, next: b.total}
}

func (b *Buffer) oldest() uint64 {
	return b.total - uint64(b.count)
}

// at must be called with mu held and oldest() <= seq < total.
func (b *Buffer) at(seq uint64) string {
	return b.lines[(b.start+int(seq-b.oldest()))%len(b.lines)]
}

// Reader consumes lines in order. A reader that falls behind the
// overwritten region resumes at the oldest retained line.
type Reader struct {
	buf       *Buffer
	next      uint64
	exclusive bool
	closed    bool
}

// Pop returns the next unread line and advances past it.
func (r *Reader) Pop() (string, bool) {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return "", false
	}
	if oldest := b.oldest(); r.next < oldest {
		r.next = oldest
	}
	if r.next >= b.total {
		return "", false
	}
	line := b.at(r.next)
	r.next++
	return line, true
}

// Pending reports how many lines are waiting without consuming them.
func (r *Reader) Pending() int {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return 0
	}
	next := max(r.next, b.oldest())
	return int(b.total - next)
}

// Changed is shorthand for the buffer's Changed channel.
func (r *Reader) Changed() <-chan struct{} {
	return r.buf.Changed()
}

// Close releases the reader. It is safe to call more than once.
func (r *Reader) Close() {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	if r.exclusive {
		b.attached = false
	}
}
