package audio

import "sync"

// sinkSet fans samples out to connected sinks.
type sinkSet struct {
	mu    sync.RWMutex
	next  int
	sinks map[int]Sink
}

func (s *sinkSet) connect(sink Sink) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sinks == nil {
		s.sinks = make(map[int]Sink)
	}
	id := s.next
	s.next++
	s.sinks[id] = sink

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.sinks, id)
			s.mu.Unlock()
		})
	}
}

func (s *sinkSet) write(samples []int16) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sink := range s.sinks {
		sink.Write(samples)
	}
}

func (s *sinkSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sinks)
}

func (s *sinkSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sinks)
}
