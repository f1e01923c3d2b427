package host

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one accepted connection. It lives exactly as long as its socket.
type Session struct {
	ID         uint64
	RemoteAddr string
	CreatedAt  time.Time

	received atomic.Uint64
}

// Received is the number of messages read from the socket so far.
func (s *Session) Received() uint64 {
	return s.received.Load()
}

// Observer is told about session lifecycle for logging and metrics. It has no
// say over dispatch.
type Observer interface {
	SessionOpened(ctx context.Context, s *Session)
	SessionClosed(ctx context.Context, s *Session)
	MessageReceived(ctx context.Context, s *Session)
}

// Registry tracks live sessions and hands out ids that are unique and
// increasing for the lifetime of the process.
type Registry struct {
	observers []Observer
	now       func() time.Time

	mu       sync.RWMutex
	next     uint64
	sessions map[uint64]*Session
}

func NewRegistry(observers ...Observer) *Registry {
	return &Registry{
		observers: observers,
		now:       time.Now,
		sessions:  make(map[uint64]*Session),
	}
}

func (r *Registry) Open(ctx context.Context, remoteAddr string) *Session {
	r.mu.Lock()
	r.next++
	s := &Session{
		ID:         r.next,
		RemoteAddr: remoteAddr,
		CreatedAt:  r.now(),
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	for _, o := range r.observers {
		o.SessionOpened(ctx, s)
	}

	return s
}

func (r *Registry) Close(ctx context.Context, id uint64) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}

	for _, o := range r.observers {
		o.SessionClosed(ctx, s)
	}
}

// Touch records one inbound message on s.
func (r *Registry) Touch(ctx context.Context, s *Session) {
	s.received.Add(1)
	for _, o := range r.observers {
		o.MessageReceived(ctx, s)
	}
}

func (r *Registry) Get(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns live sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
