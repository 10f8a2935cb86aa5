// Package progress draws a single spinner line for long running operations.
// It only reports; callers never depend on it for correctness.
package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
)

const DefaultInterval = 100 * time.Millisecond

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type Option func(*Reporter)

func WithInterval(d time.Duration) Option {
	return func(r *Reporter) { r.interval = d }
}

// WithInteractive forces redrawing on or off. By default the spinner is drawn
// only when the writer is a terminal.
func WithInteractive(interactive bool) Option {
	return func(r *Reporter) { r.interactive = interactive }
}

// Reporter redraws "spinner title pct%" from a background goroutine. The
// fraction is shared through an atomic so Update never blocks.
type Reporter struct {
	w           io.Writer
	title       string
	interval    time.Duration
	interactive bool

	value   atomic.Uint64
	started atomic.Bool
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
	width   int
}

func New(w io.Writer, title string, opts ...Option) *Reporter {
	r := &Reporter{
		w:        w,
		title:    title,
		interval: DefaultInterval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	if f, ok := w.(*os.File); ok {
		r.interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start launches the redraw loop. It is a no-op for non-interactive writers.
func (r *Reporter) Start() *Reporter {
	if !r.started.CompareAndSwap(false, true) {
		return r
	}

	if !r.interactive {
		close(r.stopped)

		return r
	}

	go r.loop()

	return r
}

func (r *Reporter) loop() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		r.draw(frames[frame%len(frames)])

		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
	}
}

func (r *Reporter) draw(frame string) {
	line := fmt.Sprintf("%s %s %3.0f%%", frame, r.title, r.Value()*100)
	r.width = max(r.width, len(line))
	fmt.Fprintf(r.w, "\r%-*s", r.width, line)
}

// Update records the completed fraction, clamped to [0, 1].
func (r *Reporter) Update(fraction float64) {
	if math.IsNaN(fraction) {
		return
	}

	r.value.Store(math.Float64bits(min(max(fraction, 0), 1)))
}

func (r *Reporter) Value() float64 {
	return math.Float64frombits(r.value.Load())
}

// Finish stops the redraw loop and prints the final line. Calling it more
// than once prints only once.
func (r *Reporter) Finish(text string) {
	r.once.Do(func() {
		close(r.stop)
		if r.started.Load() {
			<-r.stopped
		}

		line := fmt.Sprintf("✓ %s %s", r.title, text)
		if r.interactive {
			fmt.Fprintf(r.w, "\r%s\n", padRight(line, r.width))

			return
		}

		fmt.Fprintln(r.w, line)
	})
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}

	return s + strings.Repeat(" ", width-len(s))
}
