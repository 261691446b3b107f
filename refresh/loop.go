// Package refresh drives the periodic reload-and-render cycle that keeps a
// character display in step with a text file.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/harveysanders/lcdtext/grid"
)

// DefaultInterval is the time between ticks.
const DefaultInterval = 1000 * time.Millisecond

// ErrInit is returned when the display could not be initialized.
var ErrInit = errors.New("display init failed")

// Display is the output side of a character display controller.
type Display interface {
	SetPosition(row, col int)
	WriteChar(c byte)
}

// Opener initializes the display controller and returns a handle to it.
type Opener func() (Display, error)

// State of a Loop.
type State int

const (
	Uninitialized State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Frame is a copy of the grid taken after a tick was rendered.
type Frame struct {
	Tick  uint64    `json:"tick"`
	Time  time.Time `json:"time"`
	Lines []string  `json:"lines"`
}

// Config configures a Loop. Grid, Path and Open are required.
type Config struct {
	Grid     *grid.Grid
	Path     string
	Interval time.Duration
	Open     Opener
	// Sleep blocks for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnTick, if set, receives every frame. It runs on the loop goroutine
	// and must not block.
	OnTick func(Frame)
	// Now stamps frames. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Loop owns the grid and the display handle for the life of the process.
type Loop struct {
	grid     *grid.Grid
	path     string
	interval time.Duration
	open     Opener
	sleep    func(ctx context.Context, d time.Duration) error
	onTick   func(Frame)
	now      func() time.Time
	logger   *slog.Logger

	state   State
	display Display
	ticks   uint64
}

func New(cfg Config) *Loop {
	l := &Loop{
		grid:     cfg.Grid,
		path:     cfg.Path,
		interval: cfg.Interval,
		open:     cfg.Open,
		sleep:    cfg.Sleep,
		onTick:   cfg.OnTick,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.sleep == nil {
		l.sleep = Sleep
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// State reports whether the display has been initialized.
func (l *Loop) State() State { return l.state }

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks }

// Start initializes the display. It is a no-op once the loop is Running.
// A failure leaves the loop Uninitialized and wraps ErrInit.
func (l *Loop) Start() error {
	if l.state == Running {
		return nil
	}
	d, err := l.open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if d == nil {
		return fmt.Errorf("%w: opener returned no display", ErrInit)
	}
	l.display = d
	l.state = Running
	l.logger.Info("refresh:running",
		slog.String("path", l.path),
		slog.Duration("interval", l.interval),
		slog.Int("rows", l.grid.Rows()),
		slog.Int("cols", l.grid.Cols()),
	)
	return nil
}

// Run starts the loop if needed and then ticks until ctx is done.
// Every tick sleeps first, then reloads and renders.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(); err != nil {
		return err
	}
	for {
		if err := l.sleep(ctx, l.interval); err != nil {
			return err
		}
		l.Tick()
	}
}

// Tick reloads the grid from the source file and renders it. It must only
// be called once the loop is Running.
func (l *Loop) Tick() {
	l.grid.Reload(l.path)
	l.grid.Render(l.display.SetPosition, l.display.WriteChar)
	l.ticks++
	if l.onTick != nil {
		l.onTick(Frame{
			Tick:  l.ticks,
			Time:  l.now(),
			Lines: l.grid.Lines(),
		})
	}
}

// Sleep waits for d or until ctx is done, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Send delivers f to ch without blocking. It reports false if ch was full
// and the frame was dropped.
func Send(ch chan<- Frame, f Frame) bool {
	select {
	case ch <- f:
		return true
	default:
		return false
	}
}
