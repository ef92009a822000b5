// Package realtime fans job progress out to connected stream readers.
package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventConnected EventType = "connected"
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

const DefaultBuffer = 16

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type ProgressData struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type ErrorData struct {
	Error string `json:"error"`
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Stream is the shared push handle for one job. Every subscriber receives
// every event published after it subscribed.
type Stream struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	buffer int
}

func newStream(buffer int) *Stream {
	return &Stream{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a func that detaches it. The
// channel is closed after a terminal event or when the stream is closed.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// publish delivers ev to every subscriber without blocking and returns how
// many readers dropped it.
func (s *Stream) publish(ev Event) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Broadcaster owns at most one live Stream per job id.
type Broadcaster struct {
	mu      sync.Mutex
	streams map[string]*Stream
	buffer  int
	logger  zerolog.Logger
}

func NewBroadcaster(buffer int, logger zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		streams: make(map[string]*Stream),
		buffer:  buffer,
		logger:  logger,
	}
}

// Attach returns the live stream for id, creating it on first use.
func (b *Broadcaster) Attach(id string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[id]; ok {
		return s
	}
	s := newStream(b.buffer)
	b.streams[id] = s
	return s
}

func (b *Broadcaster) Progress(id string, percent int, message string) {
	b.publish(id, Event{
		Type: EventProgress,
		Data: ProgressData{Status: "running", Progress: percent, Message: message},
	})
}

func (b *Broadcaster) Complete(id string, message string) {
	b.publish(id, Event{
		Type: EventComplete,
		Data: ProgressData{Status: "completed", Progress: 100, Message: message},
	})
}

func (b *Broadcaster) Error(id string, message string) {
	b.publish(id, Event{
		Type: EventError,
		Data: ErrorData{Error: message},
	})
}

func (b *Broadcaster) publish(id string, ev Event) {
	b.mu.Lock()
	s, ok := b.streams[id]
	if ok && ev.Terminal() {
		delete(b.streams, id)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug().Str("job_id", id).Str("event", string(ev.Type)).Msg("no stream attached, event dropped")
		return
	}
	if dropped := s.publish(ev); dropped > 0 {
		b.logger.Warn().Str("job_id", id).Str("event", string(ev.Type)).Int("readers", dropped).Msg("slow stream reader, event dropped")
	}
	if ev.Terminal() {
		s.close()
	}
}

// Close tears down the stream for id. Safe to call repeatedly.
func (b *Broadcaster) Close(id string) {
	b.mu.Lock()
	s, ok := b.streams[id]
	delete(b.streams, id)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

func (b *Broadcaster) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}
