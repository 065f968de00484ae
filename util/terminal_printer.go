package util

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gosuri/uilive"
	"github.com/mattn/go-isatty"
)

// ProgressPrinter periodically redraws one line per registered output.
// On a terminal it uses uilive to rewrite the lines in place; otherwise
// every refresh is appended to the fallback writer.
type ProgressPrinter struct {
	outputs   []*ProgressOutput
	frequency time.Duration
	doneCh    chan struct{}
	stopOnce  sync.Once

	live     *uilive.Writer
	writers  []io.Writer
	fallback io.Writer
}

// IsTerminal reports whether stdout is attached to an interactive terminal
func IsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewProgressPrinter creates a printer. When interactive is false the
// printer writes plain lines to fallback.
func NewProgressPrinter(frequency time.Duration, interactive bool, fallback io.Writer) *ProgressPrinter {
	p := &ProgressPrinter{
		outputs:   make([]*ProgressOutput, 0),
		frequency: frequency,
		doneCh:    make(chan struct{}),
		writers:   make([]io.Writer, 0),
		fallback:  fallback,
	}
	if interactive {
		p.live = uilive.New()
	}
	return p
}

func (p *ProgressPrinter) NewOutput() *ProgressOutput {
	out := NewProgressOutput()
	p.outputs = append(p.outputs, out)
	if p.live != nil {
		if len(p.writers) == 0 {
			p.writers = append(p.writers, p.live)
		} else {
			p.writers = append(p.writers, p.live.Newline())
		}
	} else {
		p.writers = append(p.writers, p.fallback)
	}
	return out
}

func (p *ProgressPrinter) Start(ctx context.Context) {
	if p.live != nil {
		p.live.Start()
	}
	go func() {
		ticker := time.NewTicker(p.frequency)
		defer ticker.Stop()
		for {
			select {
			case <-p.doneCh:
				p.print()
				p.stopLive()
				return
			case <-ctx.Done():
				p.stopLive()
				return
			case <-ticker.C:
				p.print()
			}
		}
	}()
}

func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.doneCh)
	})
}

func (p *ProgressPrinter) stopLive() {
	if p.live != nil {
		p.live.Stop()
	}
}

func (p *ProgressPrinter) print() {
	for i, output := range p.outputs {
		s, changed := output.take()
		if !changed && p.live == nil {
			continue
		}
		fmt.Fprint(p.writers[i], s+"\n")
	}
	if p.live != nil {
		p.live.Flush()
	}
}

// ProgressOutput holds the latest line for one progress slot
type ProgressOutput struct {
	mu        *sync.Mutex
	printable string
	changed   bool
}

func NewProgressOutput() *ProgressOutput {
	return &ProgressOutput{
		mu: new(sync.Mutex),
	}
}

// Set the output string (blocking)
func (p *ProgressOutput) Set(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printable = s
	p.changed = true
}

// TrySet sets the output string unless a refresh currently holds the lock
func (p *ProgressOutput) TrySet(s string) bool {
	if p.mu.TryLock() {
		defer p.mu.Unlock()
		p.printable = s
		p.changed = true
		return true
	}
	return false
}

// Get the output string (blocking)
func (p *ProgressOutput) Get() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printable
}

func (p *ProgressOutput) take() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.changed
	p.changed = false
	return p.printable, changed
}
