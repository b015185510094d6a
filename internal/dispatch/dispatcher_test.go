package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/chorus-tts/chorus/internal/codec"
	"github.com/chorus-tts/chorus/internal/engine"
	"github.com/chorus-tts/chorus/internal/pool"
	"github.com/chorus-tts/chorus/internal/textseg"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func defaultParams() engine.GenerateParams {
	return engine.GenerateParams{
		Temperature:       0.4,
		TopP:              0.9,
		RepetitionPenalty: 1.1,
		MaxTokens:         2048,
		MinTokens:         28,
	}
}

// failingGenerator fails for prompts containing a trigger substring.
type failingGenerator struct {
	inner   engine.Generator
	trigger string
}

func (f *failingGenerator) Generate(ctx context.Context, prompt string, params engine.GenerateParams) ([]int, error) {
	if strings.Contains(prompt, f.trigger) {
		return nil, errors.New("simulated generation failure")
	}
	return f.inner.Generate(ctx, prompt, params)
}

func (f *failingGenerator) Ready() bool { return true }

func newPool(t *testing.T, gen engine.Generator) *pool.Pool {
	t.Helper()
	p, err := pool.New(2, func(id int) (*engine.Instance, error) {
		return engine.NewInstance(id, gen, engine.NewMockDecoder(24000)), nil
	}, newLogger())
	if err != nil {
		t.Fatalf("pool construction failed: %v", err)
	}
	return p
}

func segments(texts ...string) []textseg.Segment {
	out := make([]textseg.Segment, len(texts))
	for i, text := range texts {
		out[i] = textseg.Segment{Index: i, Text: text}
	}
	return out
}

func TestProcessAllSegmentsSucceed(t *testing.T) {
	d := New(newPool(t, engine.NewMockGenerator()), defaultParams(), newLogger())
	waves, err := d.Process(context.Background(), segments("first segment text", "second segment text", "third segment text"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waveforms, got %d", len(waves))
	}
	for i, w := range waves {
		if w.Index != i {
			t.Fatalf("waveform %d carries index %d", i, w.Index)
		}
		if len(w.Samples) == 0 {
			t.Fatalf("waveform %d empty", i)
		}
	}
}

func TestProcessDropsFailedSegment(t *testing.T) {
	gen := &failingGenerator{inner: engine.NewMockGenerator(), trigger: "POISON"}
	d := New(newPool(t, gen), defaultParams(), newLogger())

	segs := segments("segment zero body", "segment one body", "segment two body", "POISON segment", "segment four body")
	waves, err := d.Process(context.Background(), segs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 4 {
		t.Fatalf("expected 4 surviving waveforms, got %d", len(waves))
	}
	want := []int{0, 1, 2, 4}
	for i, w := range waves {
		if w.Index != want[i] {
			t.Fatalf("surviving indexes = %v at position %d, want %v", w.Index, i, want)
		}
	}
}

func TestProcessAllSegmentsFail(t *testing.T) {
	gen := &failingGenerator{inner: engine.NewMockGenerator(), trigger: markerSOH}
	d := New(newPool(t, gen), defaultParams(), newLogger())
	_, err := d.Process(context.Background(), segments("one", "two"))
	if !errors.Is(err, ErrAllSegmentsFailed) {
		t.Fatalf("expected ErrAllSegmentsFailed, got %v", err)
	}
}

// shortGenerator returns fewer tokens than one frame.
type shortGenerator struct{}

func (shortGenerator) Generate(context.Context, string, engine.GenerateParams) ([]int, error) {
	return []int{codec.TokenOffset, codec.TokenOffset + 1, codec.EndOfAudioID}, nil
}

func (shortGenerator) Ready() bool { return true }

func TestProcessInsufficientTokensDropsSegment(t *testing.T) {
	d := New(newPool(t, shortGenerator{}), defaultParams(), newLogger())
	_, err := d.Process(context.Background(), segments("only segment"))
	if !errors.Is(err, ErrAllSegmentsFailed) {
		t.Fatalf("expected batch failure from short token stream, got %v", err)
	}
}

func TestSegmentErrorUnwraps(t *testing.T) {
	inner := codec.ErrInsufficientTokens
	err := &SegmentError{Index: 3, Err: inner}
	if !errors.Is(err, codec.ErrInsufficientTokens) {
		t.Fatal("SegmentError must unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "segment 3") {
		t.Fatalf("error should name the segment index: %q", err.Error())
	}
}

func TestTrimWarmup(t *testing.T) {
	long := make([]float32, warmupSamples+100)
	if got := len(trimWarmup(long)); got != 100 {
		t.Fatalf("expected 100 samples after trim, got %d", got)
	}
	short := make([]float32, warmupSamples)
	if got := len(trimWarmup(short)); got != warmupSamples {
		t.Fatalf("short output should be kept whole, got %d", got)
	}
}

func TestNormalize(t *testing.T) {
	in := []float32{0.5, -2.0, 1.0}
	out := normalize(in)
	if out[1] != -1.0 {
		t.Fatalf("peak should normalize to -1, got %v", out)
	}
	if out[0] != 0.25 {
		t.Fatalf("expected proportional rescale, got %v", out)
	}

	within := []float32{0.1, -0.9}
	if got := normalize(within); got[1] != -0.9 {
		t.Fatalf("in-range audio must not be rescaled: %v", got)
	}
}

func TestStopTokensAlwaysIncludeEndMarker(t *testing.T) {
	d := New(newPool(t, engine.NewMockGenerator()), engine.GenerateParams{}, newLogger())
	found := false
	for _, id := range d.params.StopTokenIDs {
		if id == codec.EndOfAudioID {
			found = true
		}
	}
	if !found {
		t.Fatal("end-of-audio marker missing from stop set")
	}
}
