package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/arin/xx-chat/internal/session"
)

// Indicator is a loading animation shown until the first token arrives.
type Indicator interface {
	Start()
	Stop()
}

// StreamPrinter renders session events to a terminal: tokens as they
// arrive, then a trailing newline, with failures and warnings on errW.
type StreamPrinter struct {
	w, errW   io.Writer
	prefix    string
	indicator Indicator

	mu       sync.Mutex
	started  bool
	spinning bool
	printed  strings.Builder
}

// NewStreamPrinter writes tokens to w and problems to errW. prefix is
// printed before the first token (e.g. "  " for indentation). indicator may
// be nil.
func NewStreamPrinter(w, errW io.Writer, prefix string, indicator Indicator) *StreamPrinter {
	return &StreamPrinter{w: w, errW: errW, prefix: prefix, indicator: indicator}
}

// Observe is a session.Observer.
func (p *StreamPrinter) Observe(ev session.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case session.EventState:
		switch ev.State {
		case session.StateAwaitingConversation:
			p.reset()
			if p.indicator != nil {
				p.indicator.Start()
				p.spinning = true
			}
		case session.StateIdle:
			p.stopIndicator()
		}
	case session.EventDelta:
		p.stopIndicator()
		if ev.Delta == "" {
			return
		}
		if !p.started {
			fmt.Fprint(p.w, p.prefix)
			p.started = true
		}
		fmt.Fprint(p.w, ev.Delta)
		p.printed.WriteString(ev.Delta)
	case session.EventCompleted:
		p.stopIndicator()
		p.endLine()
		fmt.Fprintln(p.w)
	case session.EventWarning:
		yellow := color.New(color.FgYellow)
		yellow.Fprintf(p.errW, "  ⚠ %v\n", ev.Err)
	case session.EventFailed:
		p.stopIndicator()
		p.endLine()
		red := color.New(color.FgRed)
		if p.printed.Len() > 0 {
			red.Fprintf(p.errW, "  ✗ %v (partial answer discarded)\n", ev.Err)
		} else {
			red.Fprintf(p.errW, "  ✗ %v\n", ev.Err)
		}
	}
}

// Text returns what has been printed for the current answer.
func (p *StreamPrinter) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printed.String()
}

func (p *StreamPrinter) reset() {
	p.started = false
	p.printed.Reset()
}

func (p *StreamPrinter) stopIndicator() {
	if p.spinning {
		p.indicator.Stop()
		p.spinning = false
	}
}

// endLine terminates a partially printed line.
func (p *StreamPrinter) endLine() {
	if p.printed.Len() > 0 && !strings.HasSuffix(p.printed.String(), "\n") {
		fmt.Fprintln(p.w)
	}
}
