package router

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/flowstream/internal/envelope"
)

// Handler categories, used as metric labels and in logs.
const (
	CategoryUpdate      = "update"
	CategoryLog         = "log"
	CategoryNewTask     = "new_task"
	CategoryHistory     = "history"
	CategoryAuxLog      = "aux_log"
	CategoryAuxComplete = "aux_complete"
)

// TaskUpdate is delivered to task update handlers.
type TaskUpdate struct {
	Update     envelope.ExecutionUpdate
	IsComplete bool // status is terminal
}

// Unregister removes a handler registration. It is safe to call more than
// once and from inside a handler.
type Unregister func()

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived   int64 // frames handed to Dispatch
	MessagesRouted     int64 // frames that reached at least one handler
	UnknownMessages    int64
	HandlerInvocations int64
	HandlerFaults      int64
	Handlers           int // live registrations
}

// registration is one registered callback.
type registration[T any] struct {
	id     uuid.UUID
	fn     func(T)
	active atomic.Bool
}

// handlerSet holds the registrations of one category, keyed by correlation
// id. Global registrations use the empty key.
type handlerSet[T any] struct {
	category string

	mu    sync.RWMutex
	byKey map[string][]*registration[T]
}

func newHandlerSet[T any](category string) *handlerSet[T] {
	return &handlerSet[T]{
		category: category,
		byKey:    make(map[string][]*registration[T]),
	}
}

func (s *handlerSet[T]) add(key string, fn func(T)) (*registration[T], Unregister) {
	reg := &registration[T]{id: uuid.New(), fn: fn}
	reg.active.Store(true)

	s.mu.Lock()
	s.byKey[key] = append(s.byKey[key], reg)
	s.mu.Unlock()

	var once sync.Once
	return reg, func() {
		once.Do(func() { s.remove(key, reg) })
	}
}

func (s *handlerSet[T]) remove(key string, reg *registration[T]) {
	reg.active.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	regs := s.byKey[key]
	for i, r := range regs {
		if r == reg {
			// Copy so snapshots handed out earlier stay intact.
			next := make([]*registration[T], 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			regs = next
			break
		}
	}
	if len(regs) == 0 {
		delete(s.byKey, key)
		return
	}
	s.byKey[key] = regs
}

// snapshot returns the registrations for key in registration order. The
// returned slice is never mutated.
func (s *handlerSet[T]) snapshot(key string) []*registration[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byKey[key]
}

func (s *handlerSet[T]) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, regs := range s.byKey {
		n += len(regs)
	}
	return n
}
