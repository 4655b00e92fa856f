package progress

import (
	"sync"
	"time"

	"github.com/garethgeorge/storagestats/internal/scanerr"
)

type EventType string

const (
	TypeScanStarted  EventType = "scan_started"
	TypeScanProgress EventType = "scan_progress"
	TypeScanFinished EventType = "scan_finished"
	TypeScanError    EventType = "scan_error"
	TypeStateChanged EventType = "state_changed"
)

// Event is one of the typed session events below.
type Event interface {
	Type() EventType
}

type ScanStarted struct {
	Root string
}

type ScanProgress struct {
	FilesScanned int64
	BytesScanned int64
	CurrentPaths []string
}

type ScanFinished struct {
	Summary Summary
}

type ScanError struct {
	Path string
	Kind scanerr.Kind
	Err  error
}

type StateChanged struct {
	From, To string
}

func (ScanStarted) Type() EventType  { return TypeScanStarted }
func (ScanProgress) Type() EventType { return TypeScanProgress }
func (ScanFinished) Type() EventType { return TypeScanFinished }
func (ScanError) Type() EventType    { return TypeScanError }
func (StateChanged) Type() EventType { return TypeStateChanged }

// Summary describes a finished (or cancelled) scan.
type Summary struct {
	Root  string `json:"root"`
	State string `json:"state"`
	// Complete holds when the traversal and, unless it was disabled,
	// duplicate detection finished.
	Complete           bool          `json:"complete"`
	DuplicateDetection string        `json:"duplicate_detection"`
	Files              int64         `json:"files"`
	Dirs               int64         `json:"dirs"`
	Bytes              int64         `json:"bytes"`
	Errors             int64         `json:"errors"`
	Cycles             int64         `json:"cycles"`
	CacheHits          int64         `json:"cache_hits"`
	CacheMisses        int64         `json:"cache_misses"`
	HashedFiles        int64         `json:"hashed_files"`
	HashedBytes        int64         `json:"hashed_bytes"`
	DuplicateGroups    int           `json:"duplicate_groups"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Broadcaster delivers events to every subscriber. Lifecycle events block
// until each subscriber has room; best-effort events are dropped for a
// subscriber whose buffer is full.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	buffer int
}

type subscriber struct {
	ch   chan Event
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *subscriber) send(e Event, block bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if block {
		select {
		case s.ch <- e:
		case <-s.done:
		}
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.ch)
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{subs: make(map[int]*subscriber), buffer: buffer}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Subscribing after Close returns a closed channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, b.buffer), done: make(chan struct{})}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		_, ok := b.subs[id]
		delete(b.subs, id)
		b.mu.Unlock()
		if ok {
			sub.close()
		}
	}
}

func (b *Broadcaster) subscribers() []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	return subs
}

// Publish delivers a lifecycle event to every subscriber, waiting for room.
func (b *Broadcaster) Publish(e Event) {
	for _, sub := range b.subscribers() {
		sub.send(e, true)
	}
}

// TryPublish delivers e to subscribers with buffer space and reports how
// many were skipped.
func (b *Broadcaster) TryPublish(e Event) (dropped int) {
	for _, sub := range b.subscribers() {
		if !sub.send(e, false) {
			dropped++
		}
	}
	return dropped
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
