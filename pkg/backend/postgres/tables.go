// Package postgres is the self-hosted backend: tables over a pgx pool,
// the change feed over LISTEN/NOTIFY and a configured signed-in user.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
)

// Tables implements backend.Tables with one SQL statement per call.
type Tables struct {
	pool *pgxpool.Pool
}

// NewTables creates a Tables over pool.
func NewTables(pool *pgxpool.Pool) *Tables {
	return &Tables{pool: pool}
}

func (t *Tables) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	sql, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	rows, err := t.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap("select", table, err)
	}
	return collect("select", table, rows)
}

// Insert writes all rows in one transaction.
func (t *Tables) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, wrap("insert", table, err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	out := make([]backend.Row, 0, len(rows))
	for _, r := range rows {
		sql, args := buildInsert(table, r)
		res, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return nil, wrap("insert", table, err)
		}
		stored, err := collect("insert", table, res)
		if err != nil {
			return nil, err
		}
		out = append(out, stored...)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrap("insert", table, err)
	}
	return out, nil
}

func (t *Tables) Update(ctx context.Context, table string, values backend.Row, filters ...backend.Filter) ([]backend.Row, error) {
	sql, args, err := buildUpdate(table, values, filters)
	if err != nil {
		return nil, err
	}
	rows, err := t.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap("update", table, err)
	}
	return collect("update", table, rows)
}

func (t *Tables) Delete(ctx context.Context, table string, filters ...backend.Filter) error {
	sql, args, err := buildDelete(table, filters)
	if err != nil {
		return err
	}
	if _, err := t.pool.Exec(ctx, sql, args...); err != nil {
		return wrap("delete", table, err)
	}
	return nil
}

func collect(op, table string, rows pgx.Rows) ([]backend.Row, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, wrap(op, table, err)
	}
	out := make([]backend.Row, len(maps))
	for i, m := range maps {
		out[i] = backend.Row(m)
	}
	return out, nil
}

// wrap attaches the matching sentinel to well-known PostgreSQL failures.
func wrap(op, table string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrConflict, err)
		case "23502", "23503", "23514", "22P02":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrValidation, err)
		case "42501":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrForbidden, err)
		}
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

type argList []any

func (a *argList) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func buildWhere(filters []backend.Filter, args *argList) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		col := ident(f.Column)
		switch f.Op {
		case backend.OpEq:
			parts = append(parts, col+" = "+args.add(f.Value))
		case backend.OpNeq:
			parts = append(parts, col+" IS DISTINCT FROM "+args.add(f.Value))
		case backend.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return "", fmt.Errorf("in filter on %s needs []string: %w", f.Column, tderrors.ErrValidation)
			}
			parts = append(parts, col+"::text = ANY("+args.add(values)+")")
		case backend.OpGte:
			parts = append(parts, col+" >= "+args.add(f.Value))
		case backend.OpNotNull:
			parts = append(parts, col+" IS NOT NULL")
		default:
			return "", fmt.Errorf("unsupported filter op %q: %w", f.Op, tderrors.ErrValidation)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func buildSelect(table string, q backend.Query) (string, []any, error) {
	cols := "*"
	if len(q.Columns) > 0 && !(len(q.Columns) == 1 && q.Columns[0] == "*") {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = ident(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var args argList
	where, err := buildWhere(q.Filters, &args)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", cols, ident(table), where)
	if len(q.Order) > 0 {
		order := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			order[i] = ident(o.Column) + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

func sortedColumns(r backend.Row) []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(table string, r backend.Row) (string, []any) {
	if len(r) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", ident(table)), nil
	}
	var args argList
	cols := sortedColumns(r)
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
		params[i] = args.add(r[c])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		ident(table), strings.Join(quoted, ", "), strings.Join(params, ", ")), args
}

func buildUpdate(table string, values backend.Row, filters []backend.Filter) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("update %s with no values: %w", table, tderrors.ErrValidation)
	}
	var args argList
	sets := make([]string, 0, len(values)+1)
	for _, c := range sortedColumns(values) {
		sets = append(sets, ident(c)+" = "+args.add(values[c]))
	}
	if _, ok := values["updated_at"]; !ok {
		sets = append(sets, `"updated_at" = NOW()`)
	}
	where, err := buildWhere(filters, &args)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", ident(table), strings.Join(sets, ", "), where), args, nil
}

func buildDelete(table string, filters []backend.Filter) (string, []any, error) {
	var args argList
	where, err := buildWhere(filters, &args)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s", ident(table), where), args, nil
}
