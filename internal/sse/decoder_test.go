package sse

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"
)

const openAIStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Olá\"}}]}\n\n" +
	": keep-alive\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" 世界 🌍\"}}]}\r\n\r\n" +
	"event: message\n" +
	"data:{\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n" +
	"data: [DONE]\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n\n"

func collect(t *testing.T, dec *Decoder, chunks [][]byte) []string {
	t.Helper()
	var out []string
	for _, c := range chunks {
		events, err := dec.Feed(c)
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		for _, ev := range events {
			out = append(out, string(ev.Data))
		}
	}
	for _, ev := range dec.Close() {
		out = append(out, string(ev.Data))
	}
	return out
}

func TestDecoder_SingleChunk(t *testing.T) {
	dec := NewDecoder(DoneSentinel, nil)
	got := collect(t, dec, [][]byte{[]byte(openAIStream)})
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[1], "世界 🌍") {
		t.Errorf("expected multi-byte content preserved, got %s", got[1])
	}
	if !dec.Done() {
		t.Error("expected sentinel to mark decoder done")
	}
}

func TestDecoder_ChunkingInvariance_EverySplitPoint(t *testing.T) {
	want := collect(t, NewDecoder(DoneSentinel, nil), [][]byte{[]byte(openAIStream)})
	raw := []byte(openAIStream)

	for i := 0; i <= len(raw); i++ {
		got := collect(t, NewDecoder(DoneSentinel, nil), [][]byte{raw[:i], raw[i:]})
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("split at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestDecoder_ChunkingInvariance_OneByteChunks(t *testing.T) {
	want := collect(t, NewDecoder(DoneSentinel, nil), [][]byte{[]byte(openAIStream)})
	raw := []byte(openAIStream)

	chunks := make([][]byte, len(raw))
	for i := range raw {
		chunks[i] = raw[i : i+1]
	}
	got := collect(t, NewDecoder(DoneSentinel, nil), chunks)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDecoder_ChunkingInvariance_RandomSplits(t *testing.T) {
	want := collect(t, NewDecoder(DoneSentinel, nil), [][]byte{[]byte(openAIStream)})
	raw := []byte(openAIStream)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		var chunks [][]byte
		for rest := raw; len(rest) > 0; {
			n := 1 + rng.Intn(7)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := collect(t, NewDecoder(DoneSentinel, nil), chunks)
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("round %d: got %v, want %v", round, got, want)
		}
	}
}

func TestDecoder_MalformedEventSkipped(t *testing.T) {
	in := "data: {\"a\":1}\ndata: {not json\ndata: {\"b\":2}\n"
	dec := NewDecoder(DoneSentinel, nil)
	got := collect(t, dec, [][]byte{[]byte(in)})
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %v", got)
	}
	if dec.Skipped() != 1 {
		t.Errorf("expected 1 skipped event, got %d", dec.Skipped())
	}
}

func TestDecoder_NoSentinelIgnoresDoneMarker(t *testing.T) {
	// Without a sentinel, "[DONE]" is just invalid JSON.
	dec := NewDecoder("", nil)
	got := collect(t, dec, [][]byte{[]byte("data: [DONE]\ndata: {\"x\":1}\n")})
	if len(got) != 1 || dec.Done() {
		t.Errorf("expected one event and not done, got %v done=%v", got, dec.Done())
	}
}

func TestDecoder_TrailingLineWithoutNewline(t *testing.T) {
	dec := NewDecoder(DoneSentinel, nil)
	got := collect(t, dec, [][]byte{[]byte("data: {\"x\":1}\ndata: {\"y\":2}")})
	if len(got) != 2 {
		t.Fatalf("expected trailing line flushed on Close, got %v", got)
	}
}

func TestDecoder_LineTooLong(t *testing.T) {
	dec := NewDecoder(DoneSentinel, nil)
	_, err := dec.Feed([]byte("data: " + strings.Repeat("x", maxLineSize+1)))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}

func TestStream_StopsAtSentinel(t *testing.T) {
	var got []string
	sawDone, err := Stream(context.Background(), iotest.OneByteReader(strings.NewReader(openAIStream)), NewDecoder(DoneSentinel, nil), func(ev Event) error {
		got = append(got, string(ev.Data))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawDone {
		t.Error("expected sentinel to be reported")
	}
	if len(got) != 3 {
		t.Errorf("expected 3 events before sentinel, got %d", len(got))
	}
}

func TestStream_EOFWithoutSentinel(t *testing.T) {
	in := "data: {\"x\":1}\n\ndata: {\"x\":2}\n\n"
	var n int
	sawDone, err := Stream(context.Background(), strings.NewReader(in), NewDecoder(DoneSentinel, nil), func(Event) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("EOF should not be an error: %v", err)
	}
	if sawDone {
		t.Error("sentinel was never sent")
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
}

func TestStream_ReaderError(t *testing.T) {
	r := io.MultiReader(strings.NewReader("data: {\"x\":1}\n"), iotest.ErrReader(errors.New("connection reset")))
	_, err := Stream(context.Background(), r, NewDecoder(DoneSentinel, nil), func(Event) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected reader error, got %v", err)
	}
}

func TestStream_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	_, err := Stream(context.Background(), strings.NewReader(openAIStream), NewDecoder(DoneSentinel, nil), func(Event) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestStream_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Stream(ctx, strings.NewReader(openAIStream), NewDecoder(DoneSentinel, nil), func(Event) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
