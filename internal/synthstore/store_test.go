package synthstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/chorus-tts/chorus/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	// Writes and reads are no-ops without a database.
	if err := st.Append(context.Background(), Record{RequestID: "r1", TextChars: 10, Status: "ok"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	records, err := st.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records in ephemeral mode, got %d", len(records))
	}
}

func TestAppendAndListRecent(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "synth.db"), RetentionMode: "persistent"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	st.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	if err := st.Append(context.Background(), Record{
		RequestID:     "req-1",
		Source:        "http",
		TextChars:     420,
		SegmentsTotal: 3,
		AudioBytes:    102400,
		DurationMS:    850,
		Status:        "ok",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	st.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC) }
	if err := st.Append(context.Background(), Record{
		RequestID:      "req-2",
		Source:         "bus",
		TextChars:      50,
		SegmentsTotal:  1,
		SegmentsFailed: 1,
		Status:         "failed",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := st.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RequestID != "req-2" {
		t.Fatalf("expected newest record first, got %q", records[0].RequestID)
	}
	if records[1].TextChars != 420 || records[1].AudioBytes != 102400 {
		t.Fatalf("record fields lost: %+v", records[1])
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{
		Path:          filepath.Join(tmp, "synth.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxRecords:    2,
	}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	st.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := st.Append(context.Background(), Record{RequestID: "old", Status: "ok"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	st.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"a", "b", "c"} {
		if err := st.Append(context.Background(), Record{RequestID: id, Status: "ok"}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := st.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := st.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after prune, got %d", len(records))
	}
	for _, r := range records {
		if r.RequestID == "old" {
			t.Fatal("aged-out record survived prune")
		}
	}
}
