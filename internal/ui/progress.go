package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const (
	defaultBarWidth = 40
	minBarWidth     = 10
)

// Progress renders a simple count-based progress bar.
// On a terminal the bar is redrawn in place, otherwise each update is a new line.
type Progress struct {
	label       string
	out         io.Writer
	interactive bool
	width       int

	mu      sync.Mutex
	total   int
	current int
	done    bool
}

// NewProgress creates a progress bar on stderr
func NewProgress(label string) *Progress {
	fd := os.Stderr.Fd()
	interactive := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)

	width := defaultBarWidth
	if interactive {
		if cols, _, err := term.GetSize(int(fd)); err == nil {
			// label, counters and brackets take roughly half a narrow terminal
			if w := cols - len(label) - 20; w < width {
				width = max(w, minBarWidth)
			}
		}
	}

	return &Progress{
		label:       label,
		out:         os.Stderr,
		interactive: interactive,
		width:       width,
	}
}

// NewProgressTo creates a non-interactive progress bar writing to w
func NewProgressTo(w io.Writer, label string) *Progress {
	return &Progress{label: label, out: w, width: defaultBarWidth}
}

// Start sets the total amount of work and draws the empty bar
func (p *Progress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.current = 0
	p.done = false
	p.render()
}

// Advance records n more units of completed work
func (p *Progress) Advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	if p.total > 0 && p.current > p.total {
		p.current = p.total
	}
	p.render()
}

// Finish terminates the bar line
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	if p.interactive {
		fmt.Fprintln(p.out)
	}
}

// String returns the current bar without control characters
func (p *Progress) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.line()
}

func (p *Progress) line() string {
	filled := p.width
	if p.total > 0 {
		filled = p.width * p.current / p.total
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", p.width-filled)
	return fmt.Sprintf("%s [%s] %d/%d", p.label, bar, p.current, p.total)
}

func (p *Progress) render() {
	if p.interactive {
		fmt.Fprintf(p.out, "\r%s", p.line())
		return
	}
	fmt.Fprintln(p.out, p.line())
}
