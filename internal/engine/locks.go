package engine

import "sync"

// storyLocks serializes feedback updates per story id so that concurrent
// read-modify-write cycles on the same record cannot lose updates. Entries
// are kept for the process lifetime; the map grows with the number of
// distinct stories that ever received feedback.
type storyLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newStoryLocks() *storyLocks {
	return &storyLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the given id and returns its unlock function.
func (l *storyLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.m[id]
	if !ok {
		m = &sync.Mutex{}
		l.m[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
