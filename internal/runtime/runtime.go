// Package runtime wires configuration, telemetry, the engine pool, the
// synthesis service and the transport surfaces into one process lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chorus-tts/chorus/internal/bus"
	"github.com/chorus-tts/chorus/internal/config"
	"github.com/chorus-tts/chorus/internal/engine"
	"github.com/chorus-tts/chorus/internal/natsserver"
	"github.com/chorus-tts/chorus/internal/pool"
	"github.com/chorus-tts/chorus/internal/speech"
	"github.com/chorus-tts/chorus/internal/synthesis"
	"github.com/chorus-tts/chorus/internal/synthstore"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	pool     *pool.Pool
	store    *synthstore.Store
	synth    *synthesis.Service
	busNode  *natsserver.EmbeddedServer
	busConn  *bus.Client
	speechSv *speech.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	store, err := synthstore.Open(ctx, r.cfg.Store, r.logger.With(slog.String("component", "synth-store")))
	if err != nil {
		return fmt.Errorf("failed to open synthesis store: %w", err)
	}
	r.store = store

	if share := r.cfg.Engine.BackendShare; share > 0 && float64(r.cfg.Engine.Instances)*share > 0.95 {
		r.logger.Warn("engine instances may oversubscribe the generation backend",
			slog.Int("instances", r.cfg.Engine.Instances),
			slog.Float64("share_per_instance", share))
	}

	enginePool, err := pool.New(r.cfg.Engine.Instances, r.engineFactory(ctx), r.logger)
	if err != nil {
		return fmt.Errorf("failed to build engine pool: %w", err)
	}
	r.pool = enginePool

	synth, err := synthesis.NewService(r.cfg, enginePool, store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build synthesis service: %w", err)
	}
	r.synth = synth

	if err := r.startBus(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.buildMux(metricHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Int("engine_instances", enginePool.Size()),
		slog.String("engine_mode", r.cfg.Engine.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.speechSv != nil {
		r.speechSv.Close()
	}
	r.busConn.Close()
	r.busNode.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// startBus brings up the optional NATS surface: an embedded server when
// configured, a client connection and the speech request/reply service.
func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}

	busCfg := r.cfg.Bus
	node, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats-server")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.busNode = node
	if node != nil {
		busCfg.Servers = []string{node.ClientURL()}
	}

	conn, err := bus.Connect(busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busConn = conn

	svc := speech.NewService(ctx, r.cfg, conn, r.synth, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start speech service: %w", err)
	}
	r.speechSv = svc
	return nil
}

// engineFactory builds instances according to the configured engine mode.
// Remote constructors probe their backend, so a misconfigured or unreachable
// backend shows up as a reduced pool rather than a crash.
func (r *Runtime) engineFactory(ctx context.Context) pool.Factory {
	eng := r.cfg.Engine
	timeout := time.Duration(eng.RequestTimeoutMS) * time.Millisecond
	sampleRate := r.cfg.Audio.SampleRate

	return func(id int) (*engine.Instance, error) {
		var gen engine.Generator
		var err error
		switch eng.Mode {
		case "remote":
			gen, err = engine.NewHTTPGenerator(ctx, eng.GenerateEndpoint, timeout)
			if err != nil {
				return nil, fmt.Errorf("instance %d generator: %w", id, err)
			}
		default:
			gen = engine.NewMockGenerator()
		}

		var dec engine.Decoder
		switch eng.DecodeMode {
		case "http":
			dec, err = engine.NewHTTPDecoder(ctx, eng.DecodeEndpoint, sampleRate, timeout)
		case "exec":
			dec, err = engine.NewExecDecoder(eng.DecodeCommand, sampleRate)
		default:
			dec = engine.NewMockDecoder(sampleRate)
		}
		if err != nil {
			return nil, fmt.Errorf("instance %d decoder: %w", id, err)
		}

		return engine.NewInstance(id, gen, dec), nil
	}
}
