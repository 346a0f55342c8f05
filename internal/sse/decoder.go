// Package sse turns a provider's text/event-stream body into JSON event
// payloads, one per `data:` line.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/arin/xx-chat/internal/chat"
)

// DoneSentinel is the OpenAI-style end-of-stream marker.
const DoneSentinel = "[DONE]"

// chunkSize is the read size used by Stream.
const chunkSize = 4 * 1024

// maxLineSize caps a single buffered line. A provider that never sends a
// newline must not grow the buffer without bound.
const maxLineSize = 1 << 20

var dataPrefix = []byte("data:")

// ErrLineTooLong is returned when a line exceeds maxLineSize.
var ErrLineTooLong = errors.New("sse: line exceeds 1MB without newline")

// Event is one decoded `data:` payload.
type Event struct {
	Data json.RawMessage
}

// Decoder buffers partial lines across chunks. Buffering is byte-wise, so a
// chunk boundary inside a multi-byte rune or a JSON token is harmless: only
// complete lines are ever parsed.
type Decoder struct {
	buf      []byte
	sentinel []byte
	done     bool
	skipped  int
	log      *slog.Logger
}

// NewDecoder returns a decoder that stops at a `data:` payload equal to
// sentinel. An empty sentinel means the stream only ends on EOF.
func NewDecoder(sentinel string, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{sentinel: []byte(sentinel), log: log}
}

// Feed appends chunk and returns the payloads of every line it completes.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok := d.parseLine(line); ok {
			events = append(events, ev)
		}
	}
	if d.done {
		d.buf = nil
	} else if len(d.buf) > maxLineSize {
		return events, ErrLineTooLong
	}
	// Release the consumed prefix once the buffer drains.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events, nil
}

// Close treats any trailing unterminated line as complete.
func (d *Decoder) Close() []Event {
	if d.done || len(d.buf) == 0 {
		d.buf = nil
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := d.parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// Done reports whether the end sentinel has been seen.
func (d *Decoder) Done() bool { return d.done }

// Skipped returns how many malformed payloads were dropped.
func (d *Decoder) Skipped() int { return d.skipped }

func (d *Decoder) parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, dataPrefix) {
		// Blank separators, comments, event:, id: and retry: fields.
		return Event{}, false
	}
	payload := line[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte{' '})
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Event{}, false
	}
	if len(d.sentinel) > 0 && bytes.Equal(payload, d.sentinel) {
		d.done = true
		return Event{}, false
	}
	if !json.Valid(payload) {
		d.skipped++
		d.log.Warn("skipping malformed stream event",
			"error", chat.StreamParseError("decode event", errors.New("invalid JSON")),
			"bytes", len(payload))
		return Event{}, false
	}
	data := make(json.RawMessage, len(payload))
	copy(data, payload)
	return Event{Data: data}, true
}

// Stream reads r chunk by chunk, feeding a decoder and calling fn for each
// event in arrival order. It returns nil on EOF or after the sentinel; the
// returned bool reports whether the sentinel was seen. A non-nil error from
// fn stops the stream and is returned as is.
func Stream(ctx context.Context, r io.Reader, dec *Decoder, fn func(Event) error) (bool, error) {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return dec.Done(), err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			events, err := dec.Feed(buf[:n])
			for _, ev := range events {
				if err := fn(ev); err != nil {
					return dec.Done(), err
				}
			}
			if err != nil {
				return dec.Done(), err
			}
			if dec.Done() {
				return true, nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				for _, ev := range dec.Close() {
					if err := fn(ev); err != nil {
						return dec.Done(), err
					}
				}
				return dec.Done(), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return dec.Done(), ctxErr
			}
			return dec.Done(), readErr
		}
	}
}
