package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type testRowsBase struct{}

func (testRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (testRowsBase) Conn() *pgx.Conn { return nil }

func (testRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (testRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (testRowsBase) RawValues() [][]byte { return nil }

// sliceRows serves a fixed sequence of scan functions as pgx.Rows.
type sliceRows struct {
	testRowsBase
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (r *sliceRows) Close() {}

func (r *sliceRows) Err() error { return r.err }

func (r *sliceRows) Next() bool {
	if r.idx >= len(r.scans) {
		return false
	}
	r.idx++
	return true
}

func (r *sliceRows) Scan(dest ...any) error {
	return r.scans[r.idx-1](dest...)
}

type execCall struct {
	query string
	args  []any
}

// fakeSQL records statements and serves canned responses.
type fakeSQL struct {
	execs    []execCall
	execTag  pgconn.CommandTag
	execErr  error
	row      pgx.Row
	rows     pgx.Rows
	queryErr error
	tx       *fakeTx
	beginErr error
}

func (f *fakeSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	return f.execTag, f.execErr
}

func (f *fakeSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if f.row == nil {
		return simpleRow{}
	}
	return f.row
}

func (f *fakeSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.rows == nil {
		return &sliceRows{}, nil
	}
	return f.rows, nil
}

func (f *fakeSQL) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return f.tx, nil
}

// fakeTx implements the subset of pgx.Tx the cascade delete uses; the rest
// panics so an unexpected call fails loudly.
type fakeTx struct {
	execs      []execCall
	execTags   []pgconn.CommandTag
	execErr    error
	rows       pgx.Rows
	queryErr   error
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("CopyFrom not expected")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("SendBatch not expected")
}

func (t *fakeTx) LargeObjects() pgx.LargeObjects { panic("LargeObjects not expected") }

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("Prepare not expected")
}

func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{query: sql, args: arguments})
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	if len(t.execTags) > 0 {
		tag := t.execTags[0]
		t.execTags = t.execTags[1:]
		return tag, nil
	}
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.queryErr != nil {
		return nil, t.queryErr
	}
	if t.rows == nil {
		return &sliceRows{}, nil
	}
	return t.rows, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return simpleRow{}
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }
