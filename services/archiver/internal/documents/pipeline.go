// services/archiver/internal/documents/pipeline.go
package documents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/common/safe"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/metrics"
)

// Stats summarises one run of the pipeline.
type Stats struct {
	Queued     int `json:"queued"`
	Duplicates int `json:"duplicates"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type result struct {
	task Task
	size int
	took time.Duration
	err  error
}

// Pipeline deduplicates document tasks and downloads them with a bounded
// number of workers.
//
// Enqueue, Poll and Drain must be called from one goroutine; the sets they
// mutate are not shared with the workers.
type Pipeline struct {
	fetcher Fetcher
	history History
	log     *logger.Logger
	sem     *semaphore.Weighted

	known   map[string]struct{} // history
	queued  map[string]struct{} // this run
	claimed map[string]string   // target path -> canonical URL
	stats   Stats
	pending int

	results   chan result
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex // guards snapshot
	snapshot Stats
}

// NewPipeline loads the history and returns an idle pipeline.
func NewPipeline(ctx context.Context, workers int, fetcher Fetcher, history History, log *logger.Logger) (*Pipeline, error) {
	if workers <= 0 {
		workers = 8
	}
	known, err := history.Load(ctx)
	if err != nil {
		return nil, err
	}
	log = log.Named("documents")
	log.Info("download history loaded", zap.Int("entries", len(known)))

	return &Pipeline{
		fetcher: fetcher,
		history: history,
		log:     log,
		sem:     semaphore.NewWeighted(int64(workers)),
		known:   known,
		queued:  make(map[string]struct{}),
		claimed: make(map[string]string),
		results: make(chan result),
		done:    make(chan struct{}),
	}, nil
}

// Enqueue dispatches t unless it is a duplicate. It reports whether a
// download was started.
func (p *Pipeline) Enqueue(ctx context.Context, t Task) bool {
	key := t.DedupKey()
	if _, ok := p.queued[key]; ok {
		return p.duplicate(t, "queued")
	}
	if _, ok := p.known[key]; ok {
		return p.duplicate(t, "history")
	}
	if fileExists(t.TargetPath) {
		return p.duplicate(t, "exists")
	}
	if owner, ok := p.claimed[t.TargetPath]; ok && owner != key {
		t.TargetPath = withSuffix(t.TargetPath, t.DocumentID)
		if _, taken := p.claimed[t.TargetPath]; taken || fileExists(t.TargetPath) {
			return p.duplicate(t, "path")
		}
	}

	p.queued[key] = struct{}{}
	p.claimed[t.TargetPath] = key
	p.pending++
	p.stats.Queued++
	p.publish()
	metrics.DownloadsTotal.WithLabelValues("queued").Inc()

	safe.Go(p.log.Zap(), "document-download", func() { p.work(ctx, t) }, nil)
	return true
}

func (p *Pipeline) duplicate(t Task, reason string) bool {
	p.stats.Duplicates++
	p.publish()
	metrics.DownloadsTotal.WithLabelValues("duplicate").Inc()
	p.log.Debug("document skipped",
		zap.String("url", t.CanonicalURL), zap.String("path", t.TargetPath), zap.String("reason", reason))
	return false
}

func (p *Pipeline) work(ctx context.Context, t Task) {
	r := result{task: t}
	r.err = safe.Call(func() error {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)

		start := time.Now()
		n, err := p.download(ctx, t)
		r.size, r.took = n, time.Since(start)
		return err
	})
	select {
	case p.results <- r:
	case <-p.done:
	}
}

func (p *Pipeline) download(ctx context.Context, t Task) (int, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Download")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", t.DocumentID),
		attribute.String("document.url", t.CanonicalURL),
	)

	data, err := p.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("fetch: %w", err)
	}
	if err := writeAtomic(t.TargetPath, data); err != nil {
		span.RecordError(err)
		return 0, err
	}
	return len(data), nil
}

// Poll settles every finished download without blocking and returns how
// many were settled.
func (p *Pipeline) Poll(ctx context.Context) int {
	n := 0
	for p.pending > 0 {
		select {
		case r := <-p.results:
			p.settle(ctx, r)
			n++
		default:
			return n
		}
	}
	return n
}

// Drain blocks until every dispatched download is settled.
func (p *Pipeline) Drain(ctx context.Context) (Stats, error) {
	for p.pending > 0 {
		select {
		case r := <-p.results:
			p.settle(ctx, r)
		case <-ctx.Done():
			return p.stats, ctx.Err()
		}
	}
	p.log.Info("documents drained",
		zap.Int("completed", p.stats.Completed),
		zap.Int("failed", p.stats.Failed),
		zap.Int("duplicates", p.stats.Duplicates))
	return p.stats, nil
}

func (p *Pipeline) settle(ctx context.Context, r result) {
	p.pending--
	defer p.publish()

	if r.err != nil {
		p.stats.Failed++
		metrics.DownloadsTotal.WithLabelValues("failed").Inc()
		fail := &DownloadFailure{Task: r.task, Err: r.err}
		p.log.Error("document download failed",
			zap.String("event_id", r.task.EventID),
			zap.String("document_id", r.task.DocumentID),
			zap.Error(fail))
		return
	}

	p.stats.Completed++
	p.known[r.task.DedupKey()] = struct{}{}
	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	metrics.DownloadBytes.Add(float64(r.size))
	metrics.DownloadLatency.Observe(r.took.Seconds())

	if err := p.history.Append(ctx, r.task.DedupKey()); err != nil {
		p.log.Error("history append failed", zap.String("url", r.task.CanonicalURL), zap.Error(err))
	}
	p.log.Info("document saved", zap.String("path", r.task.TargetPath), zap.Int("bytes", r.size))
}

// Pending is the number of dispatched but unsettled downloads.
func (p *Pipeline) Pending() int { return p.pending }

// Stats returns a copy of the counters; safe from any goroutine.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

func (p *Pipeline) publish() {
	p.mu.Lock()
	p.snapshot = p.stats
	p.mu.Unlock()
}

// Close releases workers still waiting to report and closes the history.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return p.history.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
