package ui

import (
	"bytes"
	"testing"
)

func TestSpinner_RepeatedStartStop(t *testing.T) {
	var buf bytes.Buffer
	sp := NewSpinnerTo(&buf, "Thinking...")

	sp.Stop()
	sp.Start()
	sp.Start()
	sp.SetMessage("Still thinking...")
	sp.Stop()
	sp.Stop()

	if sp.running {
		t.Error("spinner should be stopped")
	}
}

func TestSpinner_DrivesStreamPrinter(t *testing.T) {
	sp := NewSpinnerTo(&bytes.Buffer{}, "Thinking...")
	p := NewStreamPrinter(&bytes.Buffer{}, &bytes.Buffer{}, "", sp)

	play(p, "token")
	if sp.running {
		t.Error("first token should stop the spinner")
	}
}
