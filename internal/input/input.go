// Package input describes the host capability that performs OS-level key and
// mouse actions, plus an in-memory implementation.
package input

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/protocol"
)

// Simulator performs input actions on the host. Implementations need not be
// safe for concurrent use; the dispatcher serializes calls.
type Simulator interface {
	KeyTap(key string, modifiers []protocol.Modifier) error
	CursorPosition() (x, y int, err error)
	MoveCursor(x, y int) error
	Click(button protocol.Button, double bool) error
	Scroll(dx, dy int) error
}

var ErrUnsupportedKey = errors.New("input: unsupported key")

// Virtual is a Simulator backed by an in-memory screen. The cursor is clamped
// to the screen bounds. Actions are logged at debug level.
type Virtual struct {
	logger *slog.Logger

	mu      sync.Mutex
	width   int
	height  int
	x, y    int
	taps    int
	clicks  int
	scrollX int
	scrollY int
}

func NewVirtual(logger *slog.Logger, width, height int) *Virtual {
	if width <= 0 {
		width = 1920
	}

	if height <= 0 {
		height = 1080
	}

	return &Virtual{
		logger: logger,
		width:  width,
		height: height,
		x:      width / 2,
		y:      height / 2,
	}
}

func (v *Virtual) KeyTap(key string, modifiers []protocol.Modifier) error {
	if key == "" || strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrUnsupportedKey, key)
	}

	v.mu.Lock()
	v.taps++
	v.mu.Unlock()

	v.logger.Debug("key tap", slog.String("key", key), slog.Any("modifiers", modifiers))
	return nil
}

func (v *Virtual) CursorPosition() (int, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.x, v.y, nil
}

func (v *Virtual) MoveCursor(x, y int) error {
	v.mu.Lock()
	v.x = clamp(x, 0, v.width-1)
	v.y = clamp(y, 0, v.height-1)
	x, y = v.x, v.y
	v.mu.Unlock()

	v.logger.Debug("cursor moved", slog.Int("x", x), slog.Int("y", y))
	return nil
}

func (v *Virtual) Click(button protocol.Button, double bool) error {
	if _, err := protocol.ParseButton(string(button)); err != nil {
		return err
	}

	v.mu.Lock()
	v.clicks++
	v.mu.Unlock()

	v.logger.Debug("click", slog.String("button", string(button)), slog.Bool("double", double))
	return nil
}

func (v *Virtual) Scroll(dx, dy int) error {
	v.mu.Lock()
	v.scrollX += dx
	v.scrollY += dy
	v.mu.Unlock()

	v.logger.Debug("scroll", slog.Int("dx", dx), slog.Int("dy", dy))
	return nil
}

// Stats reports how many taps and clicks were performed and the accumulated scroll.
func (v *Virtual) Stats() (taps, clicks, scrollX, scrollY int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.taps, v.clicks, v.scrollX, v.scrollY
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
