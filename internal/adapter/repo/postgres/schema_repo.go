package postgres

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/loglens/loglens/internal/domain"
)

// SchemaRepo renders the logs table structure and a diverse sample for
// prompt construction.
type SchemaRepo struct{ Pool PgxPool }

// NewSchemaRepo constructs a SchemaRepo with the given pool.
func NewSchemaRepo(p PgxPool) *SchemaRepo { return &SchemaRepo{Pool: p} }

// TableSchema renders the column metadata of the logs table as a text block.
func (r *SchemaRepo) TableSchema(ctx domain.Context) (string, error) {
	tracer := otel.Tracer("repo.schema")
	ctx, span := tracer.Start(ctx, "schema.TableSchema")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = 'logs'
		ORDER BY ordinal_position`)
	if err != nil {
		return "", fmt.Errorf("op=schema.table_schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString("Table: logs\nColumns:\n")
	for rows.Next() {
		var col domain.ColumnInfo
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return "", fmt.Errorf("op=schema.table_schema: scan: %w", err)
		}
		col.Nullable = nullable == "YES"
		null := "NOT NULL"
		if col.Nullable {
			null = "NULL"
		}
		fmt.Fprintf(&b, "  - %s (%s, %s)\n", col.Name, col.DataType, null)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("op=schema.table_schema: rows: %w", err)
	}
	return b.String(), nil
}

// sampleSQL picks a deliberately diverse 10-row sample: recent errors, slow
// requests, and a spread of services, so the prompt sees realistic values.
const sampleSQL = `
(SELECT * FROM logs WHERE deleted = FALSE AND level IN ('ERROR','FATAL') ORDER BY created_at DESC LIMIT 3)
UNION ALL
(SELECT * FROM logs WHERE deleted = FALSE AND duration_ms > 1000 ORDER BY created_at DESC LIMIT 3)
UNION ALL
(SELECT DISTINCT ON (service) * FROM logs WHERE deleted = FALSE ORDER BY service, created_at DESC LIMIT 4)`

// SampleData renders up to 10 representative rows as a text block.
func (r *SchemaRepo) SampleData(ctx domain.Context) (string, error) {
	tracer := otel.Tracer("repo.schema")
	ctx, span := tracer.Start(ctx, "schema.SampleData")
	defer span.End()

	rows, err := r.Pool.Query(ctx, sampleSQL)
	if err != nil {
		return "", fmt.Errorf("op=schema.sample_data: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var b strings.Builder
	b.WriteString("Sample rows:\n")
	n := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return "", fmt.Errorf("op=schema.sample_data: values: %w", err)
		}
		parts := make([]string, 0, len(fields))
		for i, fd := range fields {
			v := coerceValue(vals[i])
			if v == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", fd.Name, v))
		}
		fmt.Fprintf(&b, "  %s\n", strings.Join(parts, ", "))
		n++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("op=schema.sample_data: rows: %w", err)
	}
	if n == 0 {
		return "Sample rows: (table is empty)\n", nil
	}
	return b.String(), nil
}
