// services/archiver/internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/broker-archive/common"
	httpserver "github.com/YaganovValera/broker-archive/common/httpserver"
	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/common/middleware"
	"github.com/YaganovValera/broker-archive/common/shutdown"
	"github.com/YaganovValera/broker-archive/common/telemetry"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/config"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/documents"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/export"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/metrics"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/timeline"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/credentials"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"
)

// closeTimeout bounds each cleanup step after the run ended.
const closeTimeout = 10 * time.Second

// Run performs one archive run: walk the timeline, fetch details and
// documents, export the events. It returns once every download settled.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	common.InitServiceName(cfg.ServiceName)
	metrics.Register()

	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)
	log = log.WithContext(ctx)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdown.Graceful("telemetry", closeTimeout, shutdownTracer, log.Zap())

	// downloads
	history, err := documents.OpenHistory(ctx, cfg.Documents, log)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	fetcher := documents.NewHTTPFetcher(&http.Client{Timeout: cfg.Documents.HTTPTimeout}, cfg.Documents.Fetch, log)
	pipeline, err := documents.NewPipeline(ctx, cfg.Documents.Workers, fetcher, history, log)
	if err != nil {
		_ = history.Close()
		return fmt.Errorf("documents pipeline: %w", err)
	}
	defer shutdown.Graceful("documents", closeTimeout, shutdown.Closer(pipeline), log.Zap())

	// exports
	sinks, closers, err := buildSinks(ctx, cfg, runID, log)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			shutdown.Graceful(closers[i].name, closeTimeout, closers[i].fn, log.Zap())
		}
	}()
	if err != nil {
		return err
	}
	fanout := export.NewFanout(log, sinks...)

	// stream
	sess, mux, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdown.Graceful("stream-session", closeTimeout, shutdown.Closer(sess), log.Zap())

	started := time.Now()
	finalize := func(ctx context.Context, events *timeline.EventSet) error {
		exportErr := fanout.Write(ctx, events.Events())
		stats, drainErr := pipeline.Drain(ctx)
		log.Info("archive run finished",
			zap.Int("events", events.Len()),
			zap.Int("downloads", stats.Completed),
			zap.Int("download_failures", stats.Failed),
			zap.Int("duplicates", stats.Duplicates),
			zap.Duration("took", time.Since(started)))
		return errors.Join(exportErr, drainErr)
	}

	walker := timeline.NewWalker(timeline.WalkerConfig{
		Cutoff:         cfg.Timeline.Cutoff(started),
		BatchLimit:     cfg.Timeline.BatchLimit,
		MaxResubscribe: cfg.Timeline.MaxResubscribe,
	}, mux, pipeline, documents.PathResolver{Root: cfg.Documents.OutputDir}, pipeline, finalize, log)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if cfg.HTTP.Enabled {
		readiness := func() error {
			if sess.State() != stream.StateConnected {
				return errors.New("stream disconnected")
			}
			return nil
		}
		srv, err := httpserver.New(cfg.HTTP.Server, readiness, log,
			[]httpserver.Route{{Path: "/status", Handler: statusHandler(runID, walker, pipeline)}},
			httpserver.RecoverMiddleware(log),
			middleware.RequestID(),
			middleware.Metrics(),
			httpserver.CORSMiddleware(),
		)
		if err != nil {
			return fmt.Errorf("httpserver init: %w", err)
		}
		g.Go(func() error { return srv.Run(runCtx) })
	}

	g.Go(func() error {
		defer stop()
		log.Info("archive run started",
			zap.String("mode", string(cfg.Stream.Mode)),
			zap.Int("last_days", cfg.Timeline.LastDays))
		return walker.Run(runCtx)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Info("archiver stopped by context")
			return nil
		}
		return err
	}
	return nil
}

// Quote fetches one ticker snapshot for isin on exchange.
func Quote(ctx context.Context, cfg *config.Config, isin, exchange string, timeout time.Duration, log *logger.Logger) (stream.Response, error) {
	sess, mux, err := connect(ctx, cfg, log)
	if err != nil {
		return stream.Response{}, err
	}
	defer shutdown.Graceful("stream-session", closeTimeout, shutdown.Closer(sess), log.Zap())

	resp, err := mux.Request(ctx, stream.Request{"type": "ticker", "id": isin + "." + exchange}, timeout)
	if err != nil {
		return stream.Response{}, fmt.Errorf("quote %s.%s: %w", isin, exchange, err)
	}
	return resp, nil
}

// connect opens the session and puts a multiplexer on top of it.
func connect(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stream.Session, *stream.Multiplexer, error) {
	creds, err := newCredentials(cfg.Credentials)
	if err != nil {
		return nil, nil, err
	}
	sess, err := stream.NewSession(cfg.Stream, nil, creds, log)
	if err != nil {
		return nil, nil, fmt.Errorf("stream session: %w", err)
	}
	if err := sess.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("stream connect: %w", err)
	}
	return sess, stream.NewMultiplexer(sess, creds, log, metrics.StreamObserver{}), nil
}

// newCredentials caches the configured credentials for their ttl.
func newCredentials(cfg config.Credentials) (credentials.Provider, error) {
	static, err := credentials.NewStatic(cfg.Token, cfg.Cookies)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return credentials.NewRefreshing(static.Credentials, cfg.TTL), nil
}
