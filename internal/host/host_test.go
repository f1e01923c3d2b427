package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/protocol"
)

const defaultWaitTime = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.HandlerOptions{}.NewTextHandler(io.Discard))
}

func testMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// recorder is a Simulator that writes every call it gets to a log.
type recorder struct {
	mu    sync.Mutex
	calls []string
	x, y  int

	failKey string
	panicOn string
}

func (r *recorder) KeyTap(key string, modifiers []protocol.Modifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == r.panicOn {
		panic("boom")
	}

	if key == r.failKey {
		return errors.New("key refused")
	}

	mods := make([]string, 0, len(modifiers))
	for _, m := range modifiers {
		mods = append(mods, string(m))
	}

	r.calls = append(r.calls, fmt.Sprintf("key %v %v", key, strings.Join(mods, "+")))
	return nil
}

func (r *recorder) CursorPosition() (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.x, r.y, nil
}

func (r *recorder) MoveCursor(x, y int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.x, r.y = x, y
	r.calls = append(r.calls, fmt.Sprintf("move %v %v", x, y))
	return nil
}

func (r *recorder) Click(button protocol.Button, double bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("click %v %v", button, double))
	return nil
}

func (r *recorder) Scroll(dx, dy int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("scroll %v %v", dx, dy))
	return nil
}

// setPosition moves the cursor behind the dispatcher's back, like a local mouse would.
func (r *recorder) setPosition(x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.x, r.y = x, y
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), defaultWaitTime)
	defer cancel()

	for !cond() {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %v", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got calls %q, want %q", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %v: got %q, want %q", i, got[i], want[i])
		}
	}
}
