package host

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

const (
	mirrorJoinTTL    = 90 * time.Second
	mirrorRefreshTTL = 60 * time.Second

	mirrorQueueSize    = 256
	mirrorOpTimeout    = 500 * time.Millisecond
	mirrorCloseTimeout = 2 * time.Second
)

type mirrorOp struct {
	session uint64
	failure string
	do      func(ctx context.Context) error
}

// RedisMirror publishes live sessions as expiring redis hashes so operators
// can see who is connected to which host instance.
//
// Updates are queued and written by a single goroutine in arrival order; the
// session that triggered them never waits on redis. When the queue is full the
// update is dropped and the hash is left to expire.
type RedisMirror struct {
	rdb        *redis.Client
	logger     *slog.Logger
	instanceID string

	ops     chan mirrorOp
	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewRedisMirror starts the writer. Per-update timeouts only apply when rdb has
// ContextTimeoutEnabled set.
func NewRedisMirror(rdb *redis.Client, logger *slog.Logger, instanceID string) *RedisMirror {
	ctx, cancel := context.WithCancel(context.Background())

	m := &RedisMirror{
		rdb:        rdb,
		logger:     logger,
		instanceID: instanceID,
		ops:        make(chan mirrorOp, mirrorQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go m.run()
	return m
}

// Key is the redis hash that describes session id.
func (m *RedisMirror) Key(id uint64) string {
	return fmt.Sprintf("remotepad:%v:session:%v", m.instanceID, id)
}

// Dropped is the number of updates discarded because the queue was full.
func (m *RedisMirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Close writes what is still queued, giving up after a short grace period,
// and stops the writer. Later updates are dropped.
func (m *RedisMirror) Close() {
	m.once.Do(func() { close(m.stop) })

	select {
	case <-m.done:
	case <-time.After(mirrorCloseTimeout):
		m.cancel()
		<-m.done
	}

	m.cancel()
}

func (m *RedisMirror) SessionOpened(_ context.Context, s *Session) {
	rid := m.Key(s.ID)

	data := map[string]string{
		"inst":   m.instanceID,
		"remote": s.RemoteAddr,
		"join":   strconv.Itoa(int(s.CreatedAt.Unix())),
		"recv":   "0",
	}

	m.push(mirrorOp{session: s.ID, failure: "failed to mirror session", do: func(ctx context.Context) error {
		_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, rid, data)
			p.Expire(ctx, rid, mirrorJoinTTL)
			return nil
		})
		return err
	}})
}

func (m *RedisMirror) MessageReceived(_ context.Context, s *Session) {
	rid := m.Key(s.ID)

	m.push(mirrorOp{session: s.ID, failure: "failed to update received messages stats", do: func(ctx context.Context) error {
		_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.HIncrBy(ctx, rid, "recv", 1)
			p.Expire(ctx, rid, mirrorRefreshTTL)
			return nil
		})
		return err
	}})
}

func (m *RedisMirror) SessionClosed(_ context.Context, s *Session) {
	rid := m.Key(s.ID)

	m.push(mirrorOp{session: s.ID, failure: "failed to cleanup", do: func(ctx context.Context) error {
		return m.rdb.Del(ctx, rid).Err()
	}})
}

func (m *RedisMirror) push(op mirrorOp) {
	select {
	case <-m.stop:
		m.dropped.Add(1)
		return
	default:
	}

	select {
	case m.ops <- op:
	default:
		if m.dropped.Add(1)&(mirrorQueueSize-1) == 1 {
			m.logger.Warn("redis mirror behind, dropping updates", slog.Uint64("dropped", m.dropped.Load()))
		}
	}
}

func (m *RedisMirror) run() {
	defer close(m.done)

	for {
		select {
		case op := <-m.ops:
			m.apply(op)
		case <-m.stop:
			for {
				select {
				case op := <-m.ops:
					m.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (m *RedisMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(m.ctx, mirrorOpTimeout)
	defer cancel()

	if err := op.do(ctx); err != nil && m.ctx.Err() == nil {
		m.logger.Error(op.failure, err, slog.Uint64("session", op.session))
	}
}
