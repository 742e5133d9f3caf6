// Package display draws conversion progress on the terminal.
package display

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/penwyp/go-usbll2sr/internal/converter"
	"github.com/penwyp/go-usbll2sr/internal/util"
	"golang.org/x/term"
)

const (
	defaultWidth   = 80
	minBarWidth    = 10
	redrawInterval = 100 * time.Millisecond
)

// ProgressBar renders a single, redrawn status line. On anything other
// than a terminal it stays silent.
type ProgressBar struct {
	w       io.Writer
	enabled bool
	width   int
	label   string

	mu       sync.Mutex
	lastDraw time.Time
	drawn    bool
	now      func() time.Time
}

// NewProgressBar returns a bar drawing on f when f is a terminal.
func NewProgressBar(f *os.File, label string) *ProgressBar {
	enabled := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	width := defaultWidth
	if enabled {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	return newProgressBar(f, enabled, width, label)
}

func newProgressBar(w io.Writer, enabled bool, width int, label string) *ProgressBar {
	return &ProgressBar{
		w:       w,
		enabled: enabled,
		width:   width,
		label:   label,
		now:     time.Now,
	}
}

func (p *ProgressBar) Enabled() bool {
	return p.enabled
}

// Update redraws the bar, at most every redrawInterval except for the
// final update.
func (p *ProgressBar) Update(pr converter.Progress) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	final := pr.Samples >= pr.TotalSamples
	if p.drawn && !final && now.Sub(p.lastDraw) < redrawInterval {
		return
	}
	p.lastDraw = now
	if !p.drawn {
		fmt.Fprint(p.w, util.HideCursor)
	}
	p.drawn = true
	fmt.Fprint(p.w, "\r"+util.ClearLine+p.render(pr))
}

// render lays out "label [bar] pct samples" one column short of the
// terminal width, so the cursor never wraps.
func (p *ProgressBar) render(pr converter.Progress) string {
	pct := pr.Fraction() * 100
	tail := fmt.Sprintf(" %5.1f%% %s/%s samples", pct,
		util.FormatNumber(int(pr.Samples)), util.FormatNumber(int(pr.TotalSamples)))

	labelWidth := util.GetDisplayWidth(p.label)
	if labelWidth > p.width/3 {
		labelWidth = p.width / 3
	}
	barWidth := p.width - labelWidth - util.GetDisplayWidth(tail) - 2
	if barWidth < minBarWidth {
		barWidth = minBarWidth
	}
	return util.PadRight(p.label, labelWidth) + " " + util.CreateProgressBar(pct, barWidth) + tail
}

// Done ends the status line.
func (p *ProgressBar) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.drawn {
		return
	}
	fmt.Fprint(p.w, "\r"+util.ClearLine+util.ShowCursor)
	p.drawn = false
}
