package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a fixed value grid.
type rowsStub struct {
	fields []pgconn.FieldDescription
	grid   [][]any
	idx    int
	err    error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *rowsStub) Next() bool {
	if r.idx >= len(r.grid) {
		return false
	}
	r.idx++
	return true
}
func (r *rowsStub) Scan(dest ...any) error {
	row := r.grid[r.idx-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int64:
			*p = row[i].(int64)
		default:
			return errors.New("rowsStub: unsupported scan dest")
		}
	}
	return nil
}
func (r *rowsStub) Values() ([]any, error)    { return r.grid[r.idx-1], nil }
func (r *rowsStub) RawValues() [][]byte       { return nil }
func (r *rowsStub) Conn() *pgx.Conn           { return nil }

// poolStub implements postgres.PgxPool for tests. Query responses are served
// in call order from queries; QueryRow responses in call order from rows.
type poolStub struct {
	execErr error

	rows    []rowStub
	rowIdx  int
	queries []*rowsStub
	qIdx    int
	gotSQL  []string

	copyN       int64
	copyErr     error
	copyColumns []string
	copyRows    [][]any
}

func (p *poolStub) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.gotSQL = append(p.gotSQL, sql)
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	p.gotSQL = append(p.gotSQL, sql)
	if p.rowIdx >= len(p.rows) {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	r := p.rows[p.rowIdx]
	p.rowIdx++
	return r
}

func (p *poolStub) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.gotSQL = append(p.gotSQL, sql)
	if p.qIdx >= len(p.queries) {
		return nil, errors.New("no query configured")
	}
	rs := p.queries[p.qIdx]
	p.qIdx++
	return rs, nil
}

func (p *poolStub) CopyFrom(_ context.Context, _ pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	p.copyColumns = columns
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		p.copyRows = append(p.copyRows, vals)
	}
	if p.copyErr != nil {
		return 0, p.copyErr
	}
	if p.copyN != 0 {
		return p.copyN, nil
	}
	return int64(len(p.copyRows)), nil
}
