package engine

import (
	"sync"
	"time"
)

const (
	// subscriberBufferSize is the channel buffer for each log subscriber.
	// Lines are dropped if a subscriber falls this far behind.
	subscriberBufferSize = 64

	// DefaultHistorySize is the number of recent lines retained for late readers.
	DefaultHistorySize = 500
)

// LogLine is one classified line of engine output.
type LogLine struct {
	Stream string    `json:"stream"`
	Line   string    `json:"line"`
	Error  bool      `json:"error"`
	At     time.Time `json:"at"`
}

// LogBroker fans engine output out to live subscribers and keeps a ring of
// recent lines. It is safe for concurrent use.
//
// Once closed (the engine process has exited) every subscriber channel is
// closed and late subscribers receive an already-closed channel.
type LogBroker struct {
	mu     sync.Mutex
	subs   map[int]chan LogLine
	nextID int
	closed bool

	history []LogLine
	head    int
	full    bool
}

// NewLogBroker creates a broker retaining up to historySize recent lines.
func NewLogBroker(historySize int) *LogBroker {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &LogBroker{
		subs:    make(map[int]chan LogLine),
		history: make([]LogLine, historySize),
	}
}

// Subscribe returns a channel that receives engine lines published from now
// on and an unsubscribe function.
func (b *LogBroker) Subscribe() (<-chan LogLine, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan LogLine, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish records line and sends it to every subscriber. Lines are dropped
// for subscribers whose buffers are full.
func (b *LogBroker) Publish(line LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.history[b.head] = line
	b.head = (b.head + 1) % len(b.history)
	if b.head == 0 {
		b.full = true
	}

	for _, ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Recent returns up to n of the most recent lines, oldest first. n <= 0
// returns everything retained.
func (b *LogBroker) Recent(n int) []LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []LogLine
	if b.full {
		ordered = append(ordered, b.history[b.head:]...)
	}
	ordered = append(ordered, b.history[:b.head]...)

	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	out := make([]LogLine, len(ordered))
	copy(out, ordered)
	return out
}

// Close signals that no more lines will be published. All subscriber
// channels are closed.
func (b *LogBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
