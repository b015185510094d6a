// Package dispatch runs the per-segment generation pipeline: acquire an
// instance, generate raw tokens, recover codec frames, decode to audio.
// Segments are processed strictly in order within a request; failed segments
// are dropped, never retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chorus-tts/chorus/internal/codec"
	"github.com/chorus-tts/chorus/internal/engine"
	"github.com/chorus-tts/chorus/internal/textseg"
)

// Prompt framing markers expected by the generation model. The segment text
// between them already carries the voice description prefix.
const (
	markerSOH = "<|soh|>"
	markerBOS = "<|bos|>"
	markerEOT = "<|eot|>"
	markerEOH = "<|eoh|>"
	markerSOA = "<|soa|>"
	markerSOS = "<|sos|>"
)

// warmupSamples is the decoder initialization transient trimmed from the
// head of every decoded waveform.
const warmupSamples = 2048

// ErrAllSegmentsFailed reports a batch in which not a single segment
// produced audio. Callers must treat it as a fatal synthesis failure,
// distinct from a partial result.
var ErrAllSegmentsFailed = errors.New("all segments failed to synthesize")

// SegmentError wraps a per-segment pipeline failure with its source index.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// Waveform is one segment's decoded audio, tagged with the segment's original
// index so the assembler can detect gaps left by dropped segments.
type Waveform struct {
	Index   int
	Samples []float32
}

// Pool is the slice of the instance pool the dispatcher needs.
type Pool interface {
	Acquire() *engine.Instance
}

type Dispatcher struct {
	pool   Pool
	params engine.GenerateParams
	log    *slog.Logger
}

// New builds a dispatcher with fixed sampling parameters. The end-of-audio
// marker is always part of the stop set.
func New(p Pool, params engine.GenerateParams, log *slog.Logger) *Dispatcher {
	params.StopTokenIDs = appendUnique(params.StopTokenIDs, codec.EndOfAudioID)
	return &Dispatcher{
		pool:   p,
		params: params,
		log:    log.With(slog.String("component", "dispatcher")),
	}
}

// Process synthesizes every segment in index order and returns the surviving
// waveforms in that same relative order. A per-segment failure is logged with
// the segment index and the segment dropped; the batch only fails when no
// segment survives.
func (d *Dispatcher) Process(ctx context.Context, segments []textseg.Segment) ([]Waveform, error) {
	waveforms := make([]Waveform, 0, len(segments))
	for _, seg := range segments {
		samples, err := d.processSegment(ctx, seg)
		if err != nil {
			err = &SegmentError{Index: seg.Index, Err: err}
			d.log.Warn("segment dropped", slog.String("error", err.Error()))
			continue
		}
		waveforms = append(waveforms, Waveform{Index: seg.Index, Samples: samples})
	}
	if len(waveforms) == 0 {
		return nil, fmt.Errorf("%w: %d segments attempted", ErrAllSegmentsFailed, len(segments))
	}
	return waveforms, nil
}

func (d *Dispatcher) processSegment(ctx context.Context, seg textseg.Segment) ([]float32, error) {
	instance := d.pool.Acquire()
	d.log.Debug("segment assigned",
		slog.Int("segment", seg.Index),
		slog.Int("instance", instance.ID()))

	raw, err := instance.Generate(ctx, buildPrompt(seg.Text), d.params)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	levels, err := codec.Unpack(codec.Extract(raw))
	if err != nil {
		return nil, err
	}

	samples, err := instance.Decode(ctx, levels)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return normalize(trimWarmup(samples)), nil
}

// buildPrompt frames segment text with the model's protocol markers.
func buildPrompt(text string) string {
	return markerSOH + markerBOS + text + markerEOT + markerEOH + markerSOA + markerSOS
}

// trimWarmup drops the decoder transient; short outputs are kept whole.
func trimWarmup(samples []float32) []float32 {
	if len(samples) > warmupSamples {
		return samples[warmupSamples:]
	}
	return samples
}

// normalize rescales by the peak only when any sample leaves [-1, 1].
func normalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak <= 1 {
		return samples
	}
	for i := range samples {
		samples[i] /= peak
	}
	return samples
}

func appendUnique(ids []int, id int) []int {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
