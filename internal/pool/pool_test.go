package pool

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/chorus-tts/chorus/internal/engine"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okFactory(id int) (*engine.Instance, error) {
	return engine.NewInstance(id, engine.NewMockGenerator(), engine.NewMockDecoder(24000)), nil
}

func TestNewAllInstancesFail(t *testing.T) {
	_, err := New(3, func(id int) (*engine.Instance, error) {
		return nil, fmt.Errorf("instance %d boom", id)
	}, newLogger())
	if !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expected ErrNoInstances, got %v", err)
	}
}

func TestNewPartialFailure(t *testing.T) {
	p, err := New(4, func(id int) (*engine.Instance, error) {
		if id%2 == 1 {
			return nil, errors.New("boom")
		}
		return okFactory(id)
	}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size() != 2 {
		t.Fatalf("expected 2 surviving instances, got %d", p.Size())
	}
	report := p.Health()
	if report.Total != 2 || report.Configured != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAcquireRoundRobin(t *testing.T) {
	const n, k = 3, 10
	p, err := New(n, okFactory, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := make(map[int]int)
	var order []int
	for i := 0; i < k; i++ {
		id := p.Acquire().ID()
		counts[id]++
		order = append(order, id)
	}

	for id, c := range counts {
		if c != k/n && c != k/n+1 {
			t.Fatalf("instance %d acquired %d times, want %d or %d", id, c, k/n, k/n+1)
		}
	}
	for i := n; i < k; i++ {
		if order[i] != order[i-n] {
			t.Fatalf("acquisition sequence not periodic with period %d: %v", n, order)
		}
	}
}

func TestAcquireConcurrent(t *testing.T) {
	const n, goroutines, per = 4, 8, 25
	p, err := New(n, okFactory, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		mu     sync.Mutex
		counts = make(map[int]int)
		wg     sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id := p.Acquire().ID()
				mu.Lock()
				counts[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	if total != goroutines*per {
		t.Fatalf("lost acquisitions: got %d, want %d", total, goroutines*per)
	}
	// k = 200 acquisitions over 4 instances must divide evenly.
	for id, c := range counts {
		if c != goroutines*per/n {
			t.Fatalf("instance %d acquired %d times, want %d", id, c, goroutines*per/n)
		}
	}
}

func TestHealthDegraded(t *testing.T) {
	p, err := New(2, func(id int) (*engine.Instance, error) {
		if id == 1 {
			return engine.NewInstance(id, engine.NewMockGenerator(), unreadyDecoder{}), nil
		}
		return okFactory(id)
	}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	report := p.Health()
	if report.Status != "degraded" {
		t.Fatalf("expected degraded status, got %q", report.Status)
	}
	if report.Healthy != 1 {
		t.Fatalf("expected 1 healthy instance, got %d", report.Healthy)
	}
}

func TestHealthAllHealthy(t *testing.T) {
	p, err := New(2, okFactory, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report := p.Health(); report.Status != "healthy" {
		t.Fatalf("expected healthy status, got %+v", report)
	}
}

type unreadyDecoder struct{ engine.Decoder }

func (unreadyDecoder) Ready() bool { return false }
