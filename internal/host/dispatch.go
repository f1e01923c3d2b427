package host

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/input"
	"manualpilot/remotepad/internal/protocol"
)

var ErrUnknownEvent = errors.New("host: unknown event type")

// Dispatcher replays decoded events against the process-wide simulator. Calls
// from concurrent sessions are serialized one event at a time, so a cursor
// read and the move that follows it never interleave with another session.
type Dispatcher struct {
	sim     input.Simulator
	metrics *Metrics

	mu sync.Mutex
}

func NewDispatcher(sim input.Simulator, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		sim:     sim,
		metrics: metrics,
	}
}

// Replay applies events in order. A failing event is logged and skipped; the
// rest still run. It returns the number of events that failed.
func (d *Dispatcher) Replay(log *slog.Logger, events []protocol.Event) int {
	failed := 0
	d.metrics.batch(len(events))

	for _, ev := range events {
		label := string(ev.EventType())
		if _, ok := ev.(protocol.Unknown); ok {
			label = "unknown"
		}

		start := time.Now()
		err := d.apply(log, ev)
		d.metrics.replay(label, time.Since(start).Seconds())

		switch {
		case errors.Is(err, ErrUnknownEvent):
			failed++
			d.metrics.event(label, "unknown")
			log.Warn("unknown event type", slog.String("event", string(ev.EventType())))
		case err != nil:
			failed++
			d.metrics.event(label, "error")
			log.Error("failed to replay event", err, slog.String("event", label))
		default:
			d.metrics.event(label, "ok")
		}
	}

	return failed
}

func (d *Dispatcher) apply(log *slog.Logger, ev protocol.Event) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host: simulator panic: %v", r)
		}
	}()

	switch e := ev.(type) {
	case protocol.KeyPress:
		log.Info("key press", slog.String("key", e.Key), slog.Any("modifiers", e.Modifiers))
		return d.sim.KeyTap(e.Key, e.Modifiers)
	case protocol.PointerMove:
		// always relative to the live position; a cached one drifts when frames are lost
		x, y, err := d.sim.CursorPosition()
		if err != nil {
			return err
		}

		return d.sim.MoveCursor(x+round(e.DeltaX), y+round(e.DeltaY))
	case protocol.PointerClick:
		log.Debug("click", slog.String("button", string(e.Button)), slog.Bool("double", e.Double))
		return d.sim.Click(e.Button, e.Double)
	case protocol.PointerScroll:
		return d.sim.Scroll(round(e.DX), round(e.DY))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.EventType())
	}
}

// maxDelta bounds a single move or scroll step in either direction.
const maxDelta = 1 << 20

func round(v float64) int {
	return int(math.Round(math.Max(-maxDelta, math.Min(maxDelta, v))))
}
