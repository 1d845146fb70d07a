package durable

import (
	"fmt"
	"sync"
)

// subscribers is an ordered callback list with idempotent unsubscribe.
// A panicking callback is logged and skipped so it cannot break the others.
type subscribers[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

func (s *subscribers[T]) add(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.entries {
				if e.id == id {
					s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers[T]) notify(v T, logger Logger, topic string) {
	s.mu.Lock()
	entries := append([]subscriber[T](nil), s.entries...)
	s.mu.Unlock()

	for _, e := range entries {
		safeCall(e.fn, v, logger, topic)
	}
}

func (s *subscribers[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func safeCall[T any](fn func(T), v T, logger Logger, topic string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("subscriber panicked", "topic", topic, "panic", fmt.Sprint(r))
		}
	}()
	fn(v)
}
