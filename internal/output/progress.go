package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal. Falls back to false for
// plain io.Writer values such as *bytes.Buffer.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// ProgressBar displays download progress in bytes.
// Example: [=========>          ]  45% 12 MB / 27 MB z3-4.12.1.zip
//
// A total of zero or less means the size is unknown; the bar then shows the
// byte count only.
type ProgressBar struct {
	total       int64
	current     int64
	description string
	width       int
	mu          sync.Mutex
	writer      io.Writer
	lastDraw    time.Time
}

// NewProgress creates a new progress bar.
func NewProgress(total int64, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		description: description,
		width:       30,
		writer:      os.Stdout,
	}
}

// SetWidth sets the width of the progress bar in characters.
func (p *ProgressBar) SetWidth(width int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = width
}

// SetWriter sets the output writer (useful for testing).
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// Update sets the byte counts and redraws the bar. Its signature matches
// download.ProgressFunc so it can be passed to a download directly.
func (p *ProgressBar) Update(read, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if total > 0 {
		p.total = total
	}
	p.current = read
	if p.total > 0 && p.current > p.total {
		p.current = p.total
	}

	// Terminals are redrawn at most every 50ms; the last update always draws.
	now := time.Now()
	if writerIsTTY(p.writer) && !p.done() && now.Sub(p.lastDraw) < 50*time.Millisecond {
		return
	}
	p.lastDraw = now
	p.render()
}

// Finish completes the progress bar and moves to a new line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writerIsTTY(p.writer) {
		if p.total > 0 {
			p.current = p.total
		}
		p.render()
		fmt.Fprintln(p.writer)
		return
	}

	// Non-TTY: render() already printed the line if the total was reached.
	switch {
	case p.total <= 0:
		fmt.Fprintf(p.writer, "%s %s\n", humanize.Bytes(uint64(p.current)), p.description)
	case !p.done():
		p.current = p.total
		p.render()
	}
}

func (p *ProgressBar) done() bool {
	return p.total > 0 && p.current >= p.total
}

// render draws the progress bar (must be called with lock held).
func (p *ProgressBar) render() {
	var line string
	if p.total > 0 {
		percentage := int(p.current * 100 / p.total)
		filled := int(p.current * int64(p.width) / p.total)

		bar := strings.Builder{}
		bar.WriteString("[")
		for i := 0; i < p.width; i++ {
			switch {
			case i < filled-1:
				bar.WriteString("=")
			case i == filled-1:
				bar.WriteString(">")
			default:
				bar.WriteString(" ")
			}
		}
		bar.WriteString("]")

		line = fmt.Sprintf("%s %3d%% %s / %s %s", bar.String(), percentage,
			humanize.Bytes(uint64(p.current)), humanize.Bytes(uint64(p.total)), p.description)
	} else {
		line = fmt.Sprintf("%s %s", humanize.Bytes(uint64(p.current)), p.description)
	}

	if writerIsTTY(p.writer) {
		fmt.Fprintf(p.writer, "\r%s", line)
		return
	}
	// Non-TTY: a single line once complete.
	if p.done() {
		fmt.Fprintln(p.writer, line)
	}
}

// Spinner displays an animated spinner with a message.
// Example: |  Updating the remote repository information (3s elapsed)
type Spinner struct {
	message   string
	running   bool
	chars     []string
	mu        sync.Mutex
	writer    io.Writer
	ticker    *time.Ticker
	done      chan struct{}
	startTime time.Time
}

// NewSpinner creates a new spinner with a message. Call Start to show it.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		chars:   []string{"|", "/", "-", "\\"},
		writer:  os.Stdout,
		done:    make(chan struct{}),
	}
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the spinner animation.
// On a non-TTY writer the message is printed once instead.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.startTime = time.Now()

	if !writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	s.ticker = time.NewTicker(100 * time.Millisecond)
	go func() {
		idx := 0
		for {
			select {
			case <-s.ticker.C:
				s.mu.Lock()
				if !s.running {
					s.mu.Unlock()
					return
				}
				elapsed := int(time.Since(s.startTime).Seconds())
				fmt.Fprintf(s.writer, "\r%s  %s (%ds elapsed)", s.chars[idx], s.message, elapsed)
				idx = (idx + 1) % len(s.chars)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.done)

	if writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", len(s.message)+20))
	}
}

// StopWithMessage stops the spinner and displays a final message.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}
