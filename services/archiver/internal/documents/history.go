// services/archiver/internal/documents/history.go
package documents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/common/redis"
)

var tracer = otel.Tracer("archiver/documents")

// History is the persisted set of canonical URLs downloaded so far.
type History interface {
	Load(ctx context.Context) (map[string]struct{}, error)
	Append(ctx context.Context, canonicalURL string) error
	Close() error
}

// OpenHistory returns the backend selected by cfg.
func OpenHistory(ctx context.Context, cfg Config, log *logger.Logger) (History, error) {
	switch cfg.HistoryBackend {
	case HistoryRedis:
		rdb, err := redis.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return NewRedisHistory(rdb, cfg.HistoryKey), nil
	default:
		return NewFileHistory(cfg.HistoryFile), nil
	}
}

// ----- file backend -----

// FileHistory keeps one canonical URL per line.
type FileHistory struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewFileHistory(path string) *FileHistory {
	return &FileHistory{path: path}
}

func (h *FileHistory) Load(context.Context) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	f, err := os.Open(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", h.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			set[line] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("history: read %s: %w", h.path, err)
	}
	return set, nil
}

func (h *FileHistory) Append(_ context.Context, canonicalURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
			return fmt.Errorf("history: mkdir: %w", err)
		}
		f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("history: open %s: %w", h.path, err)
		}
		h.f = f
	}
	if _, err := h.f.WriteString(canonicalURL + "\n"); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

func (h *FileHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}

// ----- redis backend -----

type setClient interface {
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	Close() error
}

// RedisHistory stores the history in one redis set so several machines
// can share it.
type RedisHistory struct {
	rdb setClient
	key string
}

func NewRedisHistory(rdb setClient, key string) *RedisHistory {
	return &RedisHistory{rdb: rdb, key: key}
}

func (h *RedisHistory) Load(ctx context.Context) (map[string]struct{}, error) {
	ctx, span := tracer.Start(ctx, "History.Load")
	defer span.End()

	members, err := h.rdb.SMembers(ctx, h.key).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("history: smembers %s: %w", h.key, err)
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set, nil
}

func (h *RedisHistory) Append(ctx context.Context, canonicalURL string) error {
	if err := h.rdb.SAdd(ctx, h.key, canonicalURL).Err(); err != nil {
		return fmt.Errorf("history: sadd: %w", err)
	}
	return nil
}

func (h *RedisHistory) Close() error { return h.rdb.Close() }
