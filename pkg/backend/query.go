package backend

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Op is a filter operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNeq     Op = "neq"
	OpIn      Op = "in"
	OpGte     Op = "gte"
	OpNotNull Op = "not_null"
)

// Filter restricts a query or write to rows where Column matches Value.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq matches rows where column equals v.
func Eq(column string, v any) Filter { return Filter{Column: column, Op: OpEq, Value: v} }

// Neq matches rows where column differs from v.
func Neq(column string, v any) Filter { return Filter{Column: column, Op: OpNeq, Value: v} }

// In matches rows where column is one of values.
func In(column string, values ...string) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// Gte matches rows where column is greater than or equal to v.
func Gte(column string, v any) Filter { return Filter{Column: column, Op: OpGte, Value: v} }

// NotNull matches rows where column is set.
func NotNull(column string) Filter { return Filter{Column: column, Op: OpNotNull} }

// Order sorts query results by Column.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a select. A zero Query selects every column of every row.
type Query struct {
	Columns []string
	Filters []Filter
	Order   []Order
	Limit   int
}

// Where returns a copy of q with filters appended.
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// OrderBy returns a copy of q with an ordering appended.
func (q Query) OrderBy(column string, descending bool) Query {
	q.Order = append(append([]Order(nil), q.Order...), Order{Column: column, Descending: descending})
	return q
}

// ValueString renders a filter value the way it is compared: strings as
// is, times as RFC 3339, everything else through fmt.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// Matches reports whether row satisfies every filter. Adapters that
// evaluate queries in process (memory, feed filtering) use it.
func Matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		v, present := row[f.Column]
		switch f.Op {
		case OpEq:
			if !present || compare(v, f.Value) != 0 {
				return false
			}
		case OpNeq:
			if present && compare(v, f.Value) == 0 {
				return false
			}
		case OpIn:
			values, _ := f.Value.([]string)
			if !present || !containsString(values, row.String(f.Column)) {
				return false
			}
		case OpGte:
			if !present || v == nil || compare(v, f.Value) < 0 {
				return false
			}
		case OpNotNull:
			if !present || v == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SortRows orders rows in place by the given orderings. Rows that compare
// equal keep their relative order.
func SortRows(rows []Row, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			c := compare(rows[i][o.Column], rows[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Project returns a copy of row restricted to columns. No columns means all.
func Project(row Row, columns []string) Row {
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "*") {
		return row.Clone()
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}

func compare(a, b any) int {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(ValueString(a), ValueString(b))
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
