package scheduler

import (
	"sync"
)

// historyStore keeps a bounded execution history per entry.
type historyStore struct {
	mu         sync.RWMutex
	executions map[EntryID][]Execution
	limit      int
}

func newHistoryStore(limit int) *historyStore {
	return &historyStore{
		executions: make(map[EntryID][]Execution),
		limit:      limit,
	}
}

// add records an execution, dropping the oldest ones beyond the limit.
func (s *historyStore) add(exec Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.executions[exec.EntryID], exec)
	if s.limit > 0 && len(history) > s.limit {
		history = history[len(history)-s.limit:]
	}
	s.executions[exec.EntryID] = history
}

// get returns a copy of the history of one entry, oldest first.
func (s *historyStore) get(id EntryID) []Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Execution(nil), s.executions[id]...)
}

func (s *historyStore) remove(id EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executions, id)
}
