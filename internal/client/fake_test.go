package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"golang.org/x/exp/slog"
)

const defaultWaitTime = 2 * time.Second

var errClosed = errors.New("fake: closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.HandlerOptions{}.NewTextHandler(io.Discard))
}

// fakeConn is an in-memory channel; in carries host messages, out client ones.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	b := append([]byte(nil), data...)
	select {
	case <-c.closed:
		return errClosed
	default:
	}

	select {
	case c.out <- b:
		return nil
	case <-c.closed:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out fakeConns. fail, when set, can refuse dial n (from 1).
type fakeDialer struct {
	fail  func(n int) error
	conns chan *fakeConn

	mu    sync.Mutex
	dials int
}

func newFakeDialer(fail func(n int) error) *fakeDialer {
	return &fakeDialer{fail: fail, conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ Target) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()

	if d.fail != nil {
		if err := d.fail(n); err != nil {
			return nil, err
		}
	}

	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()

	select {
	case c := <-d.conns:
		return c
	case <-time.After(defaultWaitTime):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(defaultWaitTime)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %v", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testTarget() Target {
	return Target{Host: "pad.test", Port: 8080}
}
