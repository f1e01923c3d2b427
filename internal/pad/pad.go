// Package pad is a terminal stand-in for the touch surface: it reads line
// commands and turns them into input events for a connected session.
package pad

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/client"
	"manualpilot/remotepad/internal/keymap"
	"manualpilot/remotepad/internal/protocol"
)

// Sensitivity scales pointer deltas, as a finger on a small surface moves
// less than the cursor should.
const Sensitivity = 2

var ErrUsage = errors.New("pad: bad command")

const usage = `commands:
  key <name> [modifiers...]   tap a key, e.g. "key c ctrl"
  type <text>                 tap each character of text
  move <dx> <dy>              move the pointer
  click [left|right]          click
  dclick [left|right]         double click
  scroll <dx> <dy>            scroll
  latency                     show the last heartbeat round trip
  connect                     reconnect with a fresh retry budget
  quit`

// Target receives parsed events; client.Supervisor satisfies it.
type Target interface {
	Connect(ctx context.Context) error
	Enqueue(ev protocol.Event) error
	Latency() (client.LatencySample, bool)
}

type Command struct {
	Events  []protocol.Event
	Latency bool
	Connect bool
	Help    bool
	Quit    bool
}

func Parse(line string, table *keymap.Table) (Command, error) {
	cmd := Command{}

	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return cmd, nil
	}

	verb, rest, _ := strings.Cut(line, " ")
	verb = strings.ToLower(verb)
	args := strings.Fields(rest)

	switch verb {
	case "key":
		if len(args) == 0 {
			return cmd, fmt.Errorf("%w: key needs a name", ErrUsage)
		}

		ev, err := keyPress(table, args[0], args[1:])
		if err != nil {
			return cmd, err
		}

		cmd.Events = []protocol.Event{ev}
	case "type":
		if rest == "" {
			return cmd, fmt.Errorf("%w: type needs text", ErrUsage)
		}

		for _, r := range rest {
			ev, err := typeRune(table, r)
			if err != nil {
				return cmd, err
			}
			cmd.Events = append(cmd.Events, ev)
		}
	case "move":
		dx, dy, err := pair(verb, args)
		if err != nil {
			return cmd, err
		}

		cmd.Events = []protocol.Event{protocol.PointerMove{DeltaX: dx * Sensitivity, DeltaY: dy * Sensitivity}}
	case "scroll":
		dx, dy, err := pair(verb, args)
		if err != nil {
			return cmd, err
		}

		cmd.Events = []protocol.Event{protocol.PointerScroll{DX: dx, DY: dy}}
	case "click", "dclick":
		name := ""
		if len(args) > 0 {
			name = strings.ToLower(args[0])
		}

		button, err := protocol.ParseButton(name)
		if err != nil {
			return cmd, err
		}

		cmd.Events = []protocol.Event{protocol.PointerClick{Button: button, Double: verb == "dclick"}}
	case "latency":
		cmd.Latency = true
	case "connect":
		cmd.Connect = true
	case "help", "?":
		cmd.Help = true
	case "quit", "exit":
		cmd.Quit = true
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUsage, verb)
	}

	for _, ev := range cmd.Events {
		if err := protocol.Validate(ev); err != nil {
			return Command{}, err
		}
	}

	return cmd, nil
}

func keyPress(table *keymap.Table, label string, modLabels []string) (protocol.KeyPress, error) {
	key, err := table.Normalize(label)
	if err != nil {
		return protocol.KeyPress{}, err
	}

	mods := make([]protocol.Modifier, 0, len(modLabels))
	for _, l := range modLabels {
		m, err := table.Modifier(l)
		if err != nil {
			return protocol.KeyPress{}, err
		}
		mods = append(mods, m)
	}

	mods, err = protocol.NormalizeModifiers(mods)
	if err != nil {
		return protocol.KeyPress{}, err
	}

	return protocol.KeyPress{Key: key, Modifiers: mods}, nil
}

func typeRune(table *keymap.Table, r rune) (protocol.KeyPress, error) {
	switch {
	case r == ' ':
		return protocol.KeyPress{Key: "space"}, nil
	case unicode.IsUpper(r):
		return protocol.KeyPress{Key: string(unicode.ToLower(r)), Modifiers: []protocol.Modifier{protocol.ModShift}}, nil
	default:
		key, err := table.Normalize(string(r))
		if err != nil {
			return protocol.KeyPress{}, err
		}
		return protocol.KeyPress{Key: key}, nil
	}
}

func pair(verb string, args []string) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%w: %v needs dx and dy", ErrUsage, verb)
	}

	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	return x, y, nil
}

// Pender reports how many events have not been handed to the connection yet.
type Pender interface {
	Pending() int
}

const settlePoll = 10 * time.Millisecond

// Settle waits until p has nothing pending. It gives up when ctx is done or
// timeout passes, reporting how many events were left.
func Settle(ctx context.Context, p Pender, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	for p.Pending() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("pad: %d events unsent: %w", p.Pending(), ctx.Err())
		case <-ticker.C:
		}
	}

	return nil
}

// Run reads commands from r until quit, end of input, or ctx is done. Bad
// commands are reported on w and skipped.
func Run(ctx context.Context, r io.Reader, w io.Writer, table *keymap.Table, target Target, logger *slog.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return ctx.Err()
				}
			}

			cmd, err := Parse(line, table)
			if err != nil {
				fmt.Fprintln(w, err)
				continue
			}

			switch {
			case cmd.Quit:
				return nil
			case cmd.Help:
				fmt.Fprintln(w, usage)
			case cmd.Latency:
				if sample, ok := target.Latency(); ok {
					fmt.Fprintf(w, "%vms\n", sample.Millis())
				} else {
					fmt.Fprintln(w, "no round trip yet")
				}
			case cmd.Connect:
				if err := target.Connect(ctx); err != nil {
					fmt.Fprintln(w, err)
				}
			}

			for _, ev := range cmd.Events {
				if err := target.Enqueue(ev); err != nil {
					logger.Error("failed to enqueue", err, slog.String("event", string(ev.EventType())))
				}
			}
		}
	}
}
