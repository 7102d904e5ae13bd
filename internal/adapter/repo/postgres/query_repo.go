package postgres

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loglens/loglens/internal/domain"
)

// QueryRepo executes validated read-only SQL produced by the analysis
// workflow. Safety validation happens upstream; this layer only runs the
// statement and shapes the result.
type QueryRepo struct{ Pool PgxPool }

// NewQueryRepo constructs a QueryRepo with the given pool.
func NewQueryRepo(p PgxPool) *QueryRepo { return &QueryRepo{Pool: p} }

// ExecuteSQL runs the statement and returns rows as JSON-ready maps plus the
// elapsed execution time in milliseconds (rounded to 2 decimals).
func (r *QueryRepo) ExecuteSQL(ctx domain.Context, sql string) ([]map[string]any, float64, error) {
	tracer := otel.Tracer("repo.query")
	ctx, span := tracer.Start(ctx, "query.ExecuteSQL")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	start := time.Now()
	rows, err := r.Pool.Query(ctx, sql)
	if err != nil {
		return nil, 0, fmt.Errorf("op=query.execute_sql: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]map[string]any, 0, 64)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, 0, fmt.Errorf("op=query.execute_sql: values: %w", err)
		}
		m := make(map[string]any, len(fields))
		for i, fd := range fields {
			m[fd.Name] = coerceValue(vals[i])
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=query.execute_sql: rows: %w", err)
	}
	elapsed := math.Round(float64(time.Since(start).Microseconds())/10) / 100
	span.SetAttributes(attribute.Int("db.rows", len(out)), attribute.Float64("db.elapsed_ms", elapsed))
	return out, elapsed, nil
}

// coerceValue maps pgx values onto JSON-friendly Go types: timestamps to
// RFC3339 strings, numerics to float64, byte slices to strings.
func coerceValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := numericToFloat(t)
		if err != nil {
			return nil
		}
		return f
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	case []byte:
		return string(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func numericToFloat(n pgtype.Numeric) (float64, error) {
	if !n.Valid || n.NaN {
		return 0, fmt.Errorf("numeric not representable")
	}
	f := new(big.Float).SetInt(n.Int)
	if n.Exp != 0 {
		scale := new(big.Float).SetFloat64(math.Pow10(int(n.Exp)))
		f.Mul(f, scale)
	}
	out, _ := f.Float64()
	return out, nil
}
