package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/protocol"
)

const (
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 3
)

// RetryPolicy bounds reconnecting. A MaxAttempts of zero disables it.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

type SupervisorHooks struct {
	Hooks

	// OnReconnecting is called when a retry is scheduled; attempt counts from 1.
	OnReconnecting func(attempt int)

	// OnGiveUp is called once the retry budget is spent. No further attempts
	// are made until the next Connect.
	OnGiveUp func(err error)
}

// Supervisor reconnects a Session after unplanned closes, a bounded number of
// times in a row. A successful open restores the full budget.
type Supervisor struct {
	session *Session
	logger  *slog.Logger
	hooks   SupervisorHooks
	policy  RetryPolicy

	mu       sync.Mutex
	ctx      context.Context
	attempts int
	gen      uint64
	stopped  bool
	timer    *time.Timer
}

func NewSupervisor(cfg Config, policy RetryPolicy, dialer Dialer, logger *slog.Logger, hooks SupervisorHooks) *Supervisor {
	if policy.Delay <= 0 {
		policy.Delay = DefaultReconnectDelay
	}

	if policy.MaxAttempts < 0 {
		policy.MaxAttempts = 0
	}

	sup := &Supervisor{
		logger: logger,
		hooks:  hooks,
		policy: policy,
		ctx:    context.Background(),
	}

	inner := hooks.Hooks
	inner.OnConnected = sup.connected
	inner.OnDisconnected = sup.disconnected
	sup.session = NewSession(cfg, dialer, logger, inner)

	return sup
}

// Connect starts a fresh connection with a full retry budget.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.attempts = 0
	s.gen++
	s.stopTimer()
	s.ctx = ctx
	s.mu.Unlock()

	return s.session.Connect(ctx)
}

// Disconnect closes the session and cancels any pending retry.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.stopped = true
	s.gen++
	s.stopTimer()
	s.mu.Unlock()

	s.session.Disconnect()
}

func (s *Supervisor) Enqueue(ev protocol.Event) error {
	return s.session.Enqueue(ev)
}

func (s *Supervisor) Pending() int {
	return s.session.Pending()
}

func (s *Supervisor) State() State {
	return s.session.State()
}

func (s *Supervisor) Latency() (LatencySample, bool) {
	return s.session.Latency()
}

// Attempts is the number of retries made since the session was last open.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) connected() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()

	if s.hooks.OnConnected != nil {
		s.hooks.OnConnected()
	}
}

func (s *Supervisor) disconnected(err error) {
	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected(err)
	}

	if err == nil {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	if s.attempts >= s.policy.MaxAttempts {
		attempts := s.attempts
		s.gen++
		s.mu.Unlock()

		s.logger.Error("giving up on reconnecting", err, slog.Int("attempts", attempts))
		if s.hooks.OnGiveUp != nil {
			s.hooks.OnGiveUp(err)
		}
		return
	}

	s.attempts++
	attempt, gen := s.attempts, s.gen
	s.timer = time.AfterFunc(s.policy.Delay, func() { s.retry(gen, attempt) })
	s.mu.Unlock()

	s.logger.Info("reconnecting", slog.Int("attempt", attempt), slog.Duration("delay", s.policy.Delay))
	if s.hooks.OnReconnecting != nil {
		s.hooks.OnReconnecting(attempt)
	}
}

func (s *Supervisor) retry(gen uint64, attempt int) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.timer = nil
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err := s.session.Connect(ctx); err != nil && !errors.Is(err, ErrSessionActive) {
		s.logger.Error("failed to reconnect", err, slog.Int("attempt", attempt))
	}
}

func (s *Supervisor) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
