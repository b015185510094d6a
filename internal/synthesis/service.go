// Package synthesis ties the pipeline together: text goes in, encoded audio
// comes out. The service segments input, dispatches segments to the engine
// pool, merges waveforms and encodes the result, recording each request in
// the history store.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/chorus-tts/chorus/internal/audio"
	"github.com/chorus-tts/chorus/internal/config"
	"github.com/chorus-tts/chorus/internal/dispatch"
	"github.com/chorus-tts/chorus/internal/engine"
	"github.com/chorus-tts/chorus/internal/synthstore"
	"github.com/chorus-tts/chorus/internal/textseg"
)

// Request describes one synthesis job.
type Request struct {
	RequestID   string
	Source      string
	Text        string
	Description string
	Format      string
}

// Result is the encoded output of a completed job.
type Result struct {
	RequestID      string
	Audio          []byte
	ContentType    string
	Extension      string
	SampleRate     int
	SegmentsTotal  int
	SegmentsFailed int
	Duration       time.Duration
}

type Service struct {
	cfg       config.Config
	segmenter *textseg.Segmenter
	disp      *dispatch.Dispatcher
	encoder   audio.Encoder
	store     *synthstore.Store
	log       *slog.Logger

	tracer    trace.Tracer
	requests  metric.Int64Counter
	failures  metric.Int64Counter
	segments  metric.Int64Counter
	latencyMS metric.Float64Histogram
}

func NewService(cfg config.Config, p dispatch.Pool, store *synthstore.Store, log *slog.Logger) (*Service, error) {
	encoder, err := audio.NewEncoder(cfg.Audio.Format, cfg.Audio.Bitrate, cfg.Audio.EncoderCommand)
	if err != nil {
		return nil, fmt.Errorf("build audio encoder: %w", err)
	}

	params := engine.GenerateParams{
		Temperature:       cfg.Generation.Temperature,
		TopP:              cfg.Generation.TopP,
		RepetitionPenalty: cfg.Generation.RepetitionPenalty,
		MaxTokens:         cfg.Generation.MaxNewTokens,
		MinTokens:         cfg.Generation.MinNewTokens,
	}

	logger := log.With(slog.String("component", "synthesis"))
	s := &Service{
		cfg:       cfg,
		segmenter: textseg.New(cfg.Text.MaxTokens, textseg.NewEstimator(cfg.Text.BytesPerToken)),
		disp:      dispatch.New(p, params, log),
		encoder:   encoder,
		store:     store,
		log:       logger,
		tracer:    otel.Tracer("github.com/chorus-tts/chorus/synthesis"),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/chorus-tts/chorus/synthesis")
	var err error
	if s.requests, err = meter.Int64Counter("chorus.synthesis.requests",
		metric.WithDescription("Synthesis requests received")); err != nil {
		s.log.Warn("failed to create request counter", slogError(err))
	}
	if s.failures, err = meter.Int64Counter("chorus.synthesis.failures",
		metric.WithDescription("Synthesis requests that produced no audio")); err != nil {
		s.log.Warn("failed to create failure counter", slogError(err))
	}
	if s.segments, err = meter.Int64Counter("chorus.synthesis.segments",
		metric.WithDescription("Text segments dispatched to the engine pool")); err != nil {
		s.log.Warn("failed to create segment counter", slogError(err))
	}
	if s.latencyMS, err = meter.Float64Histogram("chorus.synthesis.duration_ms",
		metric.WithDescription("End to end synthesis latency in milliseconds")); err != nil {
		s.log.Warn("failed to create latency histogram", slogError(err))
	}
}

// Synthesize runs the full pipeline for one request.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Source == "" {
		req.Source = "http"
	}

	ctx, span := s.tracer.Start(ctx, "synthesis.request", trace.WithAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("request.source", req.Source),
		attribute.Int("request.text_chars", len(req.Text)),
	))
	defer span.End()

	start := time.Now()
	if s.requests != nil {
		s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("source", req.Source)))
	}

	result, err := s.run(ctx, req)
	elapsed := time.Since(start)
	if s.latencyMS != nil {
		s.latencyMS.Record(ctx, float64(elapsed.Milliseconds()))
	}

	rec := synthstore.Record{
		RequestID:  req.RequestID,
		Source:     req.Source,
		TextChars:  len(req.Text),
		DurationMS: elapsed.Milliseconds(),
		Status:     "ok",
	}
	if err != nil {
		rec.Status = "failed"
		if s.failures != nil {
			s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", req.Source)))
		}
		span.RecordError(err)
	} else {
		rec.SegmentsTotal = result.SegmentsTotal
		rec.SegmentsFailed = result.SegmentsFailed
		rec.AudioBytes = len(result.Audio)
	}
	if storeErr := s.store.Append(ctx, rec); storeErr != nil {
		s.log.Warn("failed to record synthesis", slogError(storeErr))
	}

	if err != nil {
		return nil, err
	}
	result.Duration = elapsed
	s.log.Info("synthesis complete",
		slog.String("request_id", req.RequestID),
		slog.Int("segments", result.SegmentsTotal),
		slog.Int("segments_failed", result.SegmentsFailed),
		slog.Int("audio_bytes", len(result.Audio)),
		slog.Duration("elapsed", elapsed))
	return result, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Result, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = s.cfg.Voice.DefaultDescription
	}
	overhead := fmt.Sprintf("<description=%q> ", description)

	segments, err := s.segmenter.Split(req.Text, overhead)
	if err != nil {
		return nil, fmt.Errorf("segment text: %w", err)
	}
	if s.segments != nil {
		s.segments.Add(ctx, int64(len(segments)))
	}

	waveforms, err := s.disp.Process(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("dispatch segments: %w", err)
	}

	samples := make([][]float32, 0, len(waveforms))
	for _, w := range waveforms {
		samples = append(samples, w.Samples)
	}
	merged, err := audio.Merge(samples, s.cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("merge waveforms: %w", err)
	}

	encoder := s.encoder
	if req.Format != "" && !strings.EqualFold(req.Format, s.cfg.Audio.Format) {
		encoder, err = audio.NewEncoder(req.Format, s.cfg.Audio.Bitrate, s.cfg.Audio.EncoderCommand)
		if err != nil {
			return nil, fmt.Errorf("build audio encoder: %w", err)
		}
	}
	encoded, err := encoder.Encode(ctx, merged, s.cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode audio: %w", err)
	}

	return &Result{
		RequestID:      req.RequestID,
		Audio:          encoded,
		ContentType:    encoder.ContentType(),
		Extension:      encoder.Extension(),
		SampleRate:     s.cfg.Audio.SampleRate,
		SegmentsTotal:  len(segments),
		SegmentsFailed: len(segments) - len(waveforms),
	}, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
