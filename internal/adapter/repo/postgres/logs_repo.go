package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loglens/loglens/internal/domain"
)

// logColumns is the fixed column list used by the bulk copy. Order matters
// and must match buildRow.
var logColumns = []string{
	"created_at", "level", "log_type", "service", "environment",
	"service_version", "trace_id", "user_id", "session_id", "error_type",
	"message", "stack_trace", "path", "method", "action_type",
	"function_name", "file_path", "duration_ms", "deleted", "metadata",
}

// LogRepo persists and aggregates log records using a minimal pgx pool.
type LogRepo struct{ Pool PgxPool }

// NewLogRepo constructs a LogRepo with the given pool.
func NewLogRepo(p PgxPool) *LogRepo { return &LogRepo{Pool: p} }

// InsertBatch stores a batch of records in a single COPY round trip and
// returns the number of rows written.
func (r *LogRepo) InsertBatch(ctx domain.Context, records []domain.LogRecord) (int, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.InsertBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COPY"),
		attribute.Int("batch.size", len(records)),
	)
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row, err := buildRow(rec)
		if err != nil {
			return 0, fmt.Errorf("op=logs.insert_batch: %w", err)
		}
		rows = append(rows, row)
	}

	n, err := r.Pool.CopyFrom(ctx, pgx.Identifier{"logs"}, logColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("op=logs.insert_batch: %w", err)
	}
	return int(n), nil
}

func buildRow(rec domain.LogRecord) ([]any, error) {
	var meta []byte
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		createdAt, string(rec.Level), string(rec.LogType), rec.Service, rec.Environment,
		rec.ServiceVersion, rec.TraceID, rec.UserID, rec.SessionID, rec.ErrorType,
		rec.Message, rec.StackTrace, rec.Path, rec.Method, rec.ActionType,
		rec.FunctionName, rec.FilePath, rec.DurationMS, rec.Deleted, meta,
	}, nil
}

// Stats aggregates totals, the level distribution, the top-10 services, and
// the last-hour error count.
func (r *LogRepo) Stats(ctx domain.Context) (domain.LogStats, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.Stats")
	defer span.End()

	var st domain.LogStats
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM logs WHERE deleted = FALSE`).Scan(&st.TotalLogs); err != nil {
		return domain.LogStats{}, fmt.Errorf("op=logs.stats: total: %w", err)
	}

	rows, err := r.Pool.Query(ctx, `SELECT level, COUNT(*) FROM logs WHERE deleted = FALSE GROUP BY level ORDER BY COUNT(*) DESC`)
	if err != nil {
		return domain.LogStats{}, fmt.Errorf("op=logs.stats: by_level: %w", err)
	}
	for rows.Next() {
		var lc domain.LevelCount
		if err := rows.Scan(&lc.Level, &lc.Count); err != nil {
			rows.Close()
			return domain.LogStats{}, fmt.Errorf("op=logs.stats: by_level scan: %w", err)
		}
		st.ByLevel = append(st.ByLevel, lc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.LogStats{}, fmt.Errorf("op=logs.stats: by_level rows: %w", err)
	}

	rows, err = r.Pool.Query(ctx, `SELECT service, COUNT(*) FROM logs WHERE deleted = FALSE GROUP BY service ORDER BY COUNT(*) DESC LIMIT 10`)
	if err != nil {
		return domain.LogStats{}, fmt.Errorf("op=logs.stats: top_services: %w", err)
	}
	for rows.Next() {
		var sc domain.ServiceCount
		if err := rows.Scan(&sc.Service, &sc.Count); err != nil {
			rows.Close()
			return domain.LogStats{}, fmt.Errorf("op=logs.stats: top_services scan: %w", err)
		}
		st.TopServices = append(st.TopServices, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.LogStats{}, fmt.Errorf("op=logs.stats: top_services rows: %w", err)
	}

	if err := r.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM logs WHERE deleted = FALSE AND level IN ('ERROR','FATAL') AND created_at >= NOW() - INTERVAL '1 hour'`,
	).Scan(&st.ErrorsLastHour); err != nil {
		return domain.LogStats{}, fmt.Errorf("op=logs.stats: errors_last_hour: %w", err)
	}
	return st, nil
}

// Services returns the distinct service names seen in the store.
func (r *LogRepo) Services(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.Services")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT DISTINCT service FROM logs WHERE deleted = FALSE ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("op=logs.services: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("op=logs.services: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=logs.services: rows: %w", err)
	}
	return out, nil
}
