// Package client keeps a pad connected to its host and streams input batches
// over that connection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/batcher"
	"manualpilot/remotepad/internal/protocol"
)

const DefaultHeartbeatInterval = time.Second

var (
	ErrSessionActive = errors.New("client: session already active")
	ErrNotOpen       = errors.New("client: session not open")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LatencySample is one heartbeat round trip.
type LatencySample struct {
	SentAt    time.Time
	RoundTrip time.Duration
}

func (l LatencySample) Millis() int64 {
	return l.RoundTrip.Milliseconds()
}

// Hooks are called from the session's own goroutine. They must not call
// Disconnect synchronously; Disconnect waits for that goroutine.
type Hooks struct {
	OnConnected func()

	// OnDisconnected gets nil when the close was asked for, through Disconnect
	// or by cancelling the context given to Connect.
	OnDisconnected func(err error)
	OnError        func(err error)
	OnLatency      func(sample LatencySample)
	OnWelcome      func(welcome protocol.Welcome)
}

type Config struct {
	Target            Target
	FlushInterval     time.Duration
	HeartbeatInterval time.Duration
	Coalesce          batcher.Coalesce
}

// Session owns one logical connection to a host: the channel, the outbound
// batcher and the heartbeat.
type Session struct {
	target    Target
	dialer    Dialer
	logger    *slog.Logger
	hooks     Hooks
	batcher   *batcher.Batcher
	heartbeat time.Duration
	now       func() time.Time

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	pingAt  time.Time
	latency LatencySample

	writeMu sync.Mutex
}

func NewSession(cfg Config, dialer Dialer, logger *slog.Logger, hooks Hooks) *Session {
	opts := []batcher.Option{batcher.WithCoalesce(cfg.Coalesce)}
	if cfg.FlushInterval > 0 {
		opts = append(opts, batcher.WithInterval(cfg.FlushInterval))
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	return &Session{
		target:    cfg.Target,
		dialer:    dialer,
		logger:    logger.With(slog.String("host", cfg.Target.String())),
		hooks:     hooks,
		batcher:   batcher.New(opts...),
		heartbeat: heartbeat,
		now:       time.Now,
		state:     StateIdle,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latency returns the most recent round trip, if any pong has arrived yet.
func (s *Session) Latency() (LatencySample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency, !s.latency.SentAt.IsZero()
}

// Pending is the number of events not yet handed to the connection, a batch
// being written included.
func (s *Session) Pending() int {
	return s.batcher.Pending()
}

// Enqueue queues ev for the next batch. Events queued while the session is not
// open are kept and go out first once it is. It fails with
// batcher.ErrBacklogFull once the backlog would no longer fit in one message.
func (s *Session) Enqueue(ev protocol.Event) error {
	if err := protocol.Validate(ev); err != nil {
		return err
	}

	return s.batcher.Enqueue(ev)
}

// Connect starts connecting in the background and returns at once. Progress is
// reported through Hooks. Cancelling ctx closes the session.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.target.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateOpen, StateClosing:
		s.mu.Unlock()
		return ErrSessionActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.state = StateConnecting
	s.cancel = cancel
	s.done = done
	s.pingAt = time.Time{}
	s.mu.Unlock()

	go s.run(ctx, runCtx, cancel, done)
	return nil
}

// Disconnect closes the session and drops every unsent event. It blocks until
// the connection goroutines have exited.
func (s *Session) Disconnect() {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateClosed:
		s.mu.Unlock()
		s.batcher.Discard()
		return
	case StateClosing:
		s.mu.Unlock()
		return
	}

	s.state = StateClosing
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	dropped := s.batcher.Discard()

	s.mu.Lock()
	s.state = StateClosed
	s.pingAt = time.Time{}
	s.mu.Unlock()

	s.logger.Info("disconnected", slog.Int("dropped", dropped))
	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected(nil)
	}
}

func (s *Session) run(parent, ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	conn, err := s.dialer.Dial(ctx, s.target)
	if err != nil {
		s.fail(parent, err)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.state = StateOpen
	s.mu.Unlock()

	s.logger.Info("connected", slog.Int("pending", s.batcher.Len()))
	if s.hooks.OnConnected != nil {
		s.hooks.OnConnected()
	}

	err = s.serve(ctx, conn)
	s.fail(parent, err)
}

// fail moves the session to Closed after the channel ended on its own. A
// session already on its way out through Disconnect is left to it.
func (s *Session) fail(parent context.Context, err error) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.pingAt = time.Time{}
	s.mu.Unlock()

	if parent.Err() != nil {
		s.logger.Info("disconnected", slog.Int("pending", s.batcher.Len()))
		if s.hooks.OnDisconnected != nil {
			s.hooks.OnDisconnected(nil)
		}
		return
	}

	s.logger.Warn("connection lost", slog.String("error", err.Error()), slog.Int("pending", s.batcher.Len()))
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}

	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected(err)
	}
}

func (s *Session) serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 3)
	wg := sync.WaitGroup{}
	wg.Add(3)

	go func() {
		defer wg.Done()
		errs <- s.batcher.Run(ctx, func(ctx context.Context, batch protocol.Batch) error {
			return s.send(ctx, conn, batch)
		})
	}()

	go func() {
		defer wg.Done()
		errs <- s.readLoop(ctx, conn)
	}()

	go func() {
		defer wg.Done()
		errs <- s.heartbeatLoop(ctx, conn)
	}()

	err := <-errs
	cancel()
	wg.Wait()
	_ = conn.Close()

	return err
}

func (s *Session) send(ctx context.Context, conn Conn, batch protocol.Batch) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}

	b, err := protocol.Encode(batch)
	if err != nil {
		return err
	}

	return s.write(ctx, conn, b)
}

func (s *Session) write(ctx context.Context, conn Conn, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Write(ctx, b)
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		b, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		s.handleMessage(b)
	}
}

func (s *Session) handleMessage(b []byte) {
	typ, err := protocol.PeekType(b)
	if err != nil {
		s.logger.Debug("ignored unreadable message", slog.String("error", err.Error()))
		return
	}

	switch typ {
	case protocol.TypePong:
		s.mu.Lock()
		if s.pingAt.IsZero() {
			s.mu.Unlock()
			return
		}

		sample := LatencySample{SentAt: s.pingAt, RoundTrip: s.now().Sub(s.pingAt)}
		s.latency = sample
		s.pingAt = time.Time{}
		s.mu.Unlock()

		if s.hooks.OnLatency != nil {
			s.hooks.OnLatency(sample)
		}
	case protocol.TypeWelcome:
		welcome := protocol.Welcome{}
		if err := json.Unmarshal(b, &welcome); err != nil {
			s.logger.Debug("ignored unreadable welcome", slog.String("error", err.Error()))
			return
		}

		s.logger.Info("welcomed", slog.String("server", welcome.ServerIP), slog.String("message", welcome.Message))
		if s.hooks.OnWelcome != nil {
			s.hooks.OnWelcome(welcome)
		}
	default:
		s.logger.Debug("ignored message", slog.String("type", string(typ)))
	}
}

// heartbeatLoop sends one ping per interval. Only the newest ping is tracked;
// an older one whose pong never came is forgotten.
func (s *Session) heartbeatLoop(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			s.pingAt = s.now()
			s.mu.Unlock()

			if err := s.write(ctx, conn, protocol.PingMessage()); err != nil {
				return err
			}
		}
	}
}
