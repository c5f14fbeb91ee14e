package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wudi/protogate/internal/logging"
)

// MessageLogEntry is one row of the per-message audit trail, written at
// routing time.
type MessageLogEntry struct {
	LogID          string
	MessageID      string
	SourceProtocol string
	DataSourceID   string
	RawSize        int
	MatchedRules   int
	TargetCount    int
	Status         string
	CreatedAt      time.Time
}

// LogUpdate amends a previously written entry once its forward outcome is
// known.
type LogUpdate struct {
	Status    string
	UpdatedAt time.Time
}

// LogSink persists message-level audit records. Implementations are free
// to drop writes under backpressure; monitoring counters do not depend on
// the sink succeeding.
type LogSink interface {
	WriteLog(ctx context.Context, entry MessageLogEntry) error
	UpdateLog(ctx context.Context, logID string, update LogUpdate) error
}

// NoopSink discards every record. It is the default when no durable sink
// is configured.
type NoopSink struct{}

func (NoopSink) WriteLog(context.Context, MessageLogEntry) error  { return nil }
func (NoopSink) UpdateLog(context.Context, string, LogUpdate) error { return nil }

// PostgresSink writes message_logs rows into a partitioned table, one
// partition per calendar month (message_logs_YYYY_MM), mirroring the
// partition-per-month layout the gateway's original monitoring service
// used. Partitions are created lazily and idempotently the first time a
// given month is written.
type PostgresSink struct {
	pool *pgxpool.Pool

	mu             sync.Mutex
	knownPartition map[string]bool
}

// NewPostgresSink wires a pgx connection pool into a PostgresSink. The
// parent table (message_logs, partitioned by RANGE on created_at) is
// expected to already exist; PostgresSink only creates monthly child
// partitions as it encounters new months.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool, knownPartition: make(map[string]bool)}
}

func partitionName(t time.Time) string {
	return fmt.Sprintf("message_logs_%04d_%02d", t.Year(), t.Month())
}

func (s *PostgresSink) ensurePartition(ctx context.Context, t time.Time) error {
	name := partitionName(t)

	s.mu.Lock()
	known := s.knownPartition[name]
	s.mu.Unlock()
	if known {
		return nil
	}

	monthStart := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF message_logs
		 FOR VALUES FROM ($1) TO ($2)`, name,
	), monthStart, monthEnd)
	if err != nil {
		return fmt.Errorf("monitoring: ensure partition %s: %w", name, err)
	}

	s.mu.Lock()
	s.knownPartition[name] = true
	s.mu.Unlock()
	return nil
}

func (s *PostgresSink) WriteLog(ctx context.Context, entry MessageLogEntry) error {
	if err := s.ensurePartition(ctx, entry.CreatedAt); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_logs
			(log_id, message_id, source_protocol, data_source_id, raw_size,
			 matched_rules, target_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.LogID, entry.MessageID, entry.SourceProtocol, entry.DataSourceID,
		entry.RawSize, entry.MatchedRules, entry.TargetCount, entry.Status, entry.CreatedAt,
	)
	return err
}

func (s *PostgresSink) UpdateLog(ctx context.Context, logID string, update LogUpdate) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE message_logs SET status = $1, updated_at = $2 WHERE log_id = $3`,
		update.Status, update.UpdatedAt, logID,
	)
	return err
}

// logAndDrop wraps a LogSink so that transient write errors are logged
// rather than propagated, used when callers would rather lose an audit
// row than block the data plane on database latency.
type logAndDrop struct{ inner LogSink }

func WithFireAndForget(inner LogSink) LogSink { return logAndDrop{inner: inner} }

func (l logAndDrop) WriteLog(ctx context.Context, entry MessageLogEntry) error {
	if err := l.inner.WriteLog(ctx, entry); err != nil {
		logging.Warn("monitoring: sink write failed, dropping", zap.String("log_id", entry.LogID), zap.Error(err))
	}
	return nil
}

func (l logAndDrop) UpdateLog(ctx context.Context, logID string, update LogUpdate) error {
	if err := l.inner.UpdateLog(ctx, logID, update); err != nil {
		logging.Warn("monitoring: sink update failed, dropping", zap.String("log_id", logID), zap.Error(err))
	}
	return nil
}
