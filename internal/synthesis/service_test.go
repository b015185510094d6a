package synthesis

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/chorus-tts/chorus/internal/config"
	"github.com/chorus-tts/chorus/internal/engine"
	"github.com/chorus-tts/chorus/internal/pool"
	"github.com/chorus-tts/chorus/internal/synthstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.Format = "wav"
	cfg.Store.RetentionMode = "ephemeral"
	if mutate != nil {
		mutate(&cfg)
	}

	log := newLogger()
	p, err := pool.New(cfg.Engine.Instances, func(id int) (*engine.Instance, error) {
		return engine.NewInstance(id, engine.NewMockGenerator(), engine.NewMockDecoder(cfg.Audio.SampleRate)), nil
	}, log)
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}

	store, err := synthstore.Open(context.Background(), cfg.Store, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(cfg, p, store, log)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

func TestSynthesizeShortText(t *testing.T) {
	svc := newService(t, nil)

	result, err := svc.Synthesize(context.Background(), Request{
		Text: "Hello there. This is a short test.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RequestID == "" {
		t.Fatal("expected a generated request id")
	}
	if result.SegmentsTotal != 1 {
		t.Fatalf("expected 1 segment, got %d", result.SegmentsTotal)
	}
	if result.SegmentsFailed != 0 {
		t.Fatalf("expected no failed segments, got %d", result.SegmentsFailed)
	}
	if result.ContentType != "audio/wav" {
		t.Fatalf("unexpected content type %q", result.ContentType)
	}
	if len(result.Audio) <= 44 {
		t.Fatalf("expected audio payload beyond the WAV header, got %d bytes", len(result.Audio))
	}
	if string(result.Audio[:4]) != "RIFF" {
		t.Fatalf("expected RIFF container, got %q", result.Audio[:4])
	}
}

func TestSynthesizeLongTextSegments(t *testing.T) {
	svc := newService(t, func(cfg *config.Config) {
		cfg.Text.MaxTokens = 200
	})

	sentence := "The quick brown fox jumps over the lazy dog near the river bank. "
	text := strings.Repeat(sentence, 60)

	result, err := svc.Synthesize(context.Background(), Request{Text: text})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SegmentsTotal < 4 {
		t.Fatalf("expected the text to split into several segments, got %d", result.SegmentsTotal)
	}
	if result.SegmentsFailed != 0 {
		t.Fatalf("expected no failed segments, got %d", result.SegmentsFailed)
	}
	if len(result.Audio) == 0 {
		t.Fatal("expected audio output")
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	svc := newService(t, nil)
	if _, err := svc.Synthesize(context.Background(), Request{Text: "   "}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestSynthesizeRecordsHistory(t *testing.T) {
	tmp := t.TempDir()
	svc := newService(t, func(cfg *config.Config) {
		cfg.Store.RetentionMode = "persistent"
		cfg.Store.Path = tmp + "/synth.db"
	})

	result, err := svc.Synthesize(context.Background(), Request{
		RequestID: "fixed-id",
		Source:    "test",
		Text:      "Record me in the history table.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := svc.store.ListRecent(context.Background(), 5)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}
	rec := records[0]
	if rec.RequestID != "fixed-id" || rec.Source != "test" {
		t.Fatalf("wrong record identity: %+v", rec)
	}
	if rec.Status != "ok" || rec.AudioBytes != len(result.Audio) {
		t.Fatalf("wrong record outcome: %+v", rec)
	}
}

func TestSynthesizeFormatOverride(t *testing.T) {
	svc := newService(t, func(cfg *config.Config) {
		cfg.Audio.Format = "wav"
	})

	// Request the already-configured format with different casing; the
	// default encoder should be reused.
	result, err := svc.Synthesize(context.Background(), Request{
		Text:   "Format casing should not matter.",
		Format: "WAV",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Extension != "wav" {
		t.Fatalf("unexpected extension %q", result.Extension)
	}
}

func TestSynthesizeDefaultVoiceDescription(t *testing.T) {
	svc := newService(t, func(cfg *config.Config) {
		cfg.Voice.DefaultDescription = "calm, low"
	})

	result, err := svc.Synthesize(context.Background(), Request{Text: "Use the default voice."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SegmentsTotal != 1 {
		t.Fatalf("expected 1 segment, got %d", result.SegmentsTotal)
	}
}
