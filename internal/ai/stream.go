package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/sse"
)

// StreamDelta represents a single item from a streaming response.
type StreamDelta struct {
	// Token is the text fragment. Never empty when Done and Err are unset.
	Token string
	// Done is true when the provider confirmed a graceful end.
	Done bool
	// Err is non-nil if the stream failed. It is always a *chat.Error.
	Err error
}

// Stream is an open provider response whose status was 2xx.
type Stream struct {
	ctx         context.Context
	parent      context.Context
	cancel      context.CancelFunc
	body        io.ReadCloser
	adapter     Adapter
	idleTimeout time.Duration
	log         *slog.Logger
}

// Close aborts the stream and releases the connection.
func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}

// Deltas starts decoding and returns a channel of text deltas. The last
// item is either Done or Err unless the caller's context was cancelled;
// the channel is closed afterwards and the connection released.
func (s *Stream) Deltas() <-chan StreamDelta {
	ch := make(chan StreamDelta)
	go func() {
		defer close(ch)
		defer s.Close()

		var timer *time.Timer
		// A slow consumer is not an idle provider: the deadline is paused
		// while a delta waits to be taken.
		send := func(d StreamDelta) bool {
			if timer != nil && timer.Stop() {
				defer timer.Reset(s.idleTimeout)
			}
			select {
			case ch <- d:
				return true
			case <-s.parent.Done():
				return false
			}
		}

		var timedOut atomic.Bool
		var body io.Reader = s.body
		if s.idleTimeout > 0 {
			timer = time.AfterFunc(s.idleTimeout, func() {
				timedOut.Store(true)
				s.cancel()
			})
			defer timer.Stop()
			body = &idleReader{r: s.body, timer: timer, d: s.idleTimeout}
		}

		p := s.adapter.Provider()
		dec := sse.NewDecoder(s.adapter.EndSentinel(), s.log)
		final := false
		sawSentinel, err := sse.Stream(s.ctx, body, dec, func(ev sse.Event) error {
			if perr := s.adapter.ExtractError(ev.Data); perr != nil {
				return chat.NetworkError("read stream", p, 0, fmt.Errorf("provider error: %w", perr))
			}
			if s.adapter.IsFinal(ev.Data) {
				final = true
			}
			if tok, ok := s.adapter.ExtractDelta(ev.Data); ok {
				if !send(StreamDelta{Token: tok}) {
					return s.parent.Err()
				}
			}
			return nil
		})

		switch {
		case err != nil && s.parent.Err() != nil:
			// The caller went away; nobody is listening.
			return
		case err != nil && timedOut.Load():
			send(StreamDelta{Err: chat.NetworkError("read stream", p, 0,
				fmt.Errorf("no data received for %s", s.idleTimeout))})
		case err != nil:
			var cerr *chat.Error
			if !errors.As(err, &cerr) {
				err = chat.NetworkError("read stream", p, 0, err)
			}
			send(StreamDelta{Err: err})
		case sawSentinel || final:
			send(StreamDelta{Done: true})
		default:
			send(StreamDelta{Err: chat.NetworkError("read stream", p, 0,
				errors.New("connection closed before the provider finished the answer"))})
		}
	}()
	return ch
}

// idleReader pushes the idle deadline back on every successful read.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	d     time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.d)
	}
	return n, err
}
