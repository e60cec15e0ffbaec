package statement

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var knownTypes = map[string]bool{
	TypeAny: true, "any": true, TypeString: true, TypeInt: true,
	TypeFloat: true, TypeBool: true, TypeTime: true, TypeBytes: true,
}

// bind orders the supplied values by position and checks them against the
// parameter specs. Values are only ever bound, never spliced into SQL.
func (d *Descriptor) bind(params map[string]any) ([]any, error) {
	args := make([]any, len(d.order))
	for i, name := range d.order {
		spec := d.specs[name]
		v, ok := params[name]
		if !ok || v == nil {
			if spec.Required {
				return nil, fmt.Errorf("%w: statement %s: missing required parameter %q", ErrParameterMismatch, d.Name, name)
			}
			continue
		}
		cv, err := checkParam(spec.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: statement %s: parameter %q: %v", ErrParameterMismatch, d.Name, name, err)
		}
		args[i] = cv
	}
	return args, nil
}

func checkParam(typ string, v any) (any, error) {
	switch typ {
	case TypeAny, "any":
		return v, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		// path variables and form values arrive as text
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return n, nil
			}
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeTime:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case TypeBytes:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("want %s, got %T", typ, v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// rowMapper turns one row of values into a Record.
type rowMapper func(values []any) (Record, error)

type column struct {
	property string
	typ      string
}

// newMapper resolves the property name and target type of every column in
// the result set once per query.
func (r ResultSpec) newMapper(fields []pgconn.FieldDescription) rowMapper {
	byColumn := make(map[string]ResultColumn, len(r.Columns))
	for _, c := range r.Columns {
		byColumn[strings.ToLower(c.Column)] = c
	}

	cols := make([]column, len(fields))
	for i, f := range fields {
		col := column{property: f.Name}
		if r.MapUnderscoreToCamelCase {
			col.property = camelCase(f.Name)
		}
		if rc, ok := byColumn[strings.ToLower(f.Name)]; ok {
			if rc.Property != "" {
				col.property = rc.Property
			}
			col.typ = rc.Type
		}
		cols[i] = col
	}

	return func(values []any) (Record, error) {
		rec := make(Record, len(cols))
		for i, col := range cols {
			if i >= len(values) {
				break
			}
			v, err := coerceResult(col.typ, values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", fields[i].Name, err)
			}
			rec[col.property] = v
		}
		return rec, nil
	}
}

func coerceResult(typ string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case TypeAny, "any":
		return v, nil
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		case fmt.Stringer:
			return s.String(), nil
		}
		return fmt.Sprint(v), nil
	case TypeInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		// path variables and form values arrive as text
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return n, nil
			}
		}
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i, nil
			}
		case interface{ Int64Value() (pgtype.Int8, error) }:
			if i, err := n.Int64Value(); err == nil && i.Valid {
				return i.Int64, nil
			}
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
		switch n := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, nil
			}
		case interface{ Float64Value() (pgtype.Float8, error) }:
			if f, err := n.Float64Value(); err == nil && f.Valid {
				return f.Float64, nil
			}
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if pb, err := strconv.ParseBool(b); err == nil {
				return pb, nil
			}
		}
	case TypeTime:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, typ)
}

// camelCase converts user_name to userName.
func camelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
