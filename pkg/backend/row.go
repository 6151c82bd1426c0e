package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Row is one loosely typed table row as returned by the backend.
// Services convert rows into explicit structs with the accessors below.
type Row map[string]any

// String returns the column as a string, or "" when absent or null.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	case [16]byte:
		return formatUUID(v)
	default:
		return fmt.Sprint(v)
	}
}

// OptString returns the column as a string pointer, nil when absent or null.
func (r Row) OptString(col string) *string {
	if r[col] == nil {
		return nil
	}
	s := r.String(col)
	return &s
}

// Bool returns the column as a bool, false when absent or null.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Int returns the column as an int, 0 when absent or not numeric.
func (r Row) Int(col string) int {
	switch v := r[col].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// Time returns the column as a time, the zero time when absent or unparsable.
func (r Row) Time(col string) time.Time {
	if t := r.OptTime(col); t != nil {
		return *t
	}
	return time.Time{}
}

// OptTime returns the column as a time pointer, nil when absent or unparsable.
func (r Row) OptTime(col string) *time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t
			}
		}
	}
	return nil
}

// Strings returns the column as a string slice.
func (r Row) Strings(col string) []string {
	switch v := r[col].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func formatUUID(b [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
