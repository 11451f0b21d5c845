package live

import "sync"

// Stream is one consumer of a Channel's events.
type Stream struct {
	ch     *Channel
	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	ended     bool
	closeOnce sync.Once
}

func newStream(ch *Channel, size int) *Stream {
	return &Stream{
		ch:     ch,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Events returns the event channel. It is closed after the terminal status event
// or when the stream is closed.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close detaches the consumer. The channel is released once its last consumer
// has detached and the release grace has passed.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.ch.detach(s)
	s.end()
}

// send blocks until the consumer takes ev, the consumer detaches or abort fires.
func (s *Stream) send(ev Event, abort <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	case <-abort:
	}
}

// terminate hands over the terminal event without blocking and ends the
// stream. A full buffer loses its oldest event so the terminal one is last.
func (s *Stream) terminate(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case <-s.done:
	default:
		for delivered := false; !delivered; {
			select {
			case s.events <- ev:
				delivered = true
			default:
				select {
				case <-s.events:
				default:
				}
			}
		}
	}
	s.ended = true
	close(s.events)
}

func (s *Stream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.events)
	}
}
