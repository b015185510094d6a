// Package speech exposes the synthesis pipeline as a NATS request/reply
// service, so other processes on the bus can request audio without going
// through HTTP.
package speech

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chorus-tts/chorus/internal/bus"
	"github.com/chorus-tts/chorus/internal/config"
	"github.com/chorus-tts/chorus/internal/protocol"
	"github.com/chorus-tts/chorus/internal/synthesis"
)

type Service struct {
	cfg    config.BusConfig
	bus    *bus.Client
	synth  *synthesis.Service
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	requestTimeout time.Duration
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, synth *synthesis.Service, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:            cfg.Bus,
		bus:            busClient,
		synth:          synth,
		ctx:            ctx,
		cancel:         cancel,
		logger:         log.With(slog.String("component", "speech-service")),
		requestTimeout: time.Duration(cfg.Engine.RequestTimeoutMS) * time.Millisecond,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthesize, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesize request", slogError(err))
		s.respondError(msg, req.RequestID, "invalid request payload")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
		defer cancel()

		result, err := s.synth.Synthesize(ctx, synthesis.Request{
			RequestID:   req.RequestID,
			Source:      "bus",
			Text:        req.Text,
			Description: req.Description,
			Format:      req.Format,
		})
		if err != nil {
			s.logger.Warn("bus synthesis failed", slogError(err))
			s.respondError(msg, req.RequestID, err.Error())
			return
		}

		reply := protocol.SynthesizeReply{
			RequestID:      result.RequestID,
			Audio:          result.Audio,
			ContentType:    result.ContentType,
			SampleRate:     result.SampleRate,
			SegmentsTotal:  result.SegmentsTotal,
			SegmentsFailed: result.SegmentsFailed,
			Timestamp:      time.Now().UTC(),
		}
		s.respond(msg, reply)
	}()
}

func (s *Service) respondError(msg *nats.Msg, requestID, reason string) {
	s.respond(msg, protocol.SynthesizeReply{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Error:     reason,
	})
}

func (s *Service) respond(msg *nats.Msg, reply protocol.SynthesizeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal synthesize reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond to synthesize request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
