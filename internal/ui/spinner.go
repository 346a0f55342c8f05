// Package ui renders streaming answers and loading states in the terminal.
package ui

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner is the "waiting for the first token" indicator. Start and Stop
// may be called repeatedly; redundant calls are ignored.
type Spinner struct {
	mu      sync.Mutex
	s       *spinner.Spinner
	running bool
}

// NewSpinner creates a stderr spinner with the given message.
func NewSpinner(msg string) *Spinner {
	return NewSpinnerTo(os.Stderr, msg)
}

func NewSpinnerTo(w io.Writer, msg string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = "  " + msg
	_ = s.Color("cyan")
	return &Spinner{s: s}
}

func (sp *Spinner) Start() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.running {
		return
	}
	sp.running = true
	sp.s.Start()
}

// Stop halts the spinner and clears its line.
func (sp *Spinner) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.running {
		return
	}
	sp.running = false
	sp.s.Stop()
}

// SetMessage replaces the text shown next to the spinner.
func (sp *Spinner) SetMessage(msg string) {
	sp.s.Lock()
	sp.s.Suffix = "  " + msg
	sp.s.Unlock()
}
