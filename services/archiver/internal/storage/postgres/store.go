// services/archiver/internal/storage/postgres/store.go
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/timeline"
)

//go:embed migrations/*.sql
var migrations embed.FS

var tracer = otel.Tracer("archiver/storage/postgres")

const insertEvent = `
INSERT INTO timeline_events
  (id, event_time, source_feed, title, subtitle, has_documents, item, detail)
VALUES
  ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

const insertRun = `
INSERT INTO archive_runs (run_id, events, with_docs)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`

type batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes the archived event set to postgres.
type Store struct {
	db    batcher
	close func()
	runID string
	log   *logger.Logger
}

// Migrate applies the embedded migrations.
func Migrate(dsn string, log *logger.Logger) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres migrate: open: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres migrate: dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("postgres migrate: up: %w", err)
	}
	log.Info("postgres: migrations applied")
	return nil
}

// New migrates the schema and opens a pool.
func New(ctx context.Context, cfg Config, runID string, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("postgres")

	if err := Migrate(cfg.DSN, log); err != nil {
		return nil, err
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pgxCfg.MaxConns = cfg.MaxConns
	pgxCfg.MinConns = cfg.MinConns
	pgxCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	log.Info("postgres: connected")

	return &Store{db: pool, close: pool.Close, runID: runID, log: log}, nil
}

func (s *Store) Name() string { return "postgres" }

// Write inserts every event in one batch. Events already stored are left
// untouched.
func (s *Store) Write(ctx context.Context, events []*timeline.Event) error {
	ctx, span := tracer.Start(ctx, "Store.Write", trace.WithAttributes(attribute.Int("events", len(events))))
	defer span.End()

	b := &pgx.Batch{}
	withDocs := 0
	for _, e := range events {
		if e.HasDocuments {
			withDocs++
		}
		b.Queue(insertEvent, eventArgs(e)...)
	}

	br := s.db.SendBatch(ctx, b)
	inserted := int64(0)
	for _, e := range events {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			span.RecordError(err)
			s.log.WithContext(ctx).Error("insert failed", zap.String("id", e.ID), zap.Error(err))
			return fmt.Errorf("postgres: insert %s: %w", e.ID, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("postgres: batch close: %w", err)
	}

	if s.runID != "" {
		if _, err := s.db.Exec(ctx, insertRun, s.runID, len(events), withDocs); err != nil {
			span.RecordError(err)
			return fmt.Errorf("postgres: record run: %w", err)
		}
	}
	s.log.Info("events stored", zap.Int64("inserted", inserted), zap.Int("total", len(events)))
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

func eventArgs(e *timeline.Event) []any {
	var detail any
	if len(e.Detail) > 0 {
		detail = string(e.Detail)
	}
	item := "{}"
	if len(e.Raw) > 0 {
		item = string(e.Raw)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Unix(0, 0)
	}
	return []any{e.ID, ts.UTC(), string(e.Feed), e.Title, e.Subtitle, e.HasDocuments, item, detail}
}
