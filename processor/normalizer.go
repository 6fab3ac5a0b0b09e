package processor

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotTabular is returned when a payload is neither an object nor an array of objects.
var ErrNotTabular = errors.New("payload is not an object or an array of objects")

// Kind selects how an upstream value is coerced.
type Kind int

const (
	Text Kind = iota
	Decimal
	Integer
	UnixMillis
	Timestamp
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Decimal:
		return "decimal"
	case Integer:
		return "integer"
	case UnixMillis:
		return "unix_millis"
	case Timestamp:
		return "timestamp"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field maps one upstream attribute to one column.
type Field struct {
	Upstream string
	Column   string
	Kind     Kind
}

// Mapping is the static shape declaration of one target table.
type Mapping struct {
	Table  string
	Fields []Field
}

// Row holds coerced column values: string for Text, decimal.NullDecimal for
// Decimal, sql.NullInt64 for Integer and sql.NullTime for UnixMillis and
// Timestamp. Every declared column is present.
type Row map[string]any

// Text returns the string value of column, or "" when absent.
func (r Row) Text(column string) string {
	s, _ := r[column].(string)
	return s
}

// Decimal returns the decimal value of column.
func (r Row) Decimal(column string) decimal.NullDecimal {
	d, _ := r[column].(decimal.NullDecimal)
	return d
}

// Int returns the integer value of column.
func (r Row) Int(column string) sql.NullInt64 {
	n, _ := r[column].(sql.NullInt64)
	return n
}

// Time returns the time value of column.
func (r Row) Time(column string) sql.NullTime {
	t, _ := r[column].(sql.NullTime)
	return t
}

// Normalize decodes raw into rows shaped by m. An object yields one row,
// an array yields one row per element and null or empty input yields none.
// Attributes not named by m are dropped; missing or unparseable values
// become NULL.
func Normalize(raw json.RawMessage, m Mapping) ([]Row, error) {
	objects, err := decodeObjects(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", m.Table, err)
	}
	rows := make([]Row, 0, len(objects))
	for _, obj := range objects {
		row := make(Row, len(m.Fields))
		for _, f := range m.Fields {
			row[f.Column] = coerce(lookup(obj, f.Upstream), f.Kind)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeObjects(raw json.RawMessage) ([]map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		return []map[string]json.RawMessage{obj}, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, err
		}
		objects := make([]map[string]json.RawMessage, 0, len(elems))
		for i, e := range elems {
			e = bytes.TrimSpace(e)
			if len(e) == 0 || e[0] != '{' {
				return nil, fmt.Errorf("element %d: %w", i, ErrNotTabular)
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(e, &obj); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			objects = append(objects, obj)
		}
		return objects, nil
	default:
		return nil, ErrNotTabular
	}
}

// lookup finds name exactly, then case-insensitively. Among several
// case-insensitive matches the lexically smallest key wins.
func lookup(obj map[string]json.RawMessage, name string) json.RawMessage {
	if v, ok := obj[name]; ok {
		return v
	}
	var matches []string
	for k := range obj {
		if strings.EqualFold(k, name) {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)
	return obj[matches[0]]
}

func coerce(v json.RawMessage, kind Kind) any {
	switch kind {
	case Decimal:
		return toDecimal(v)
	case Integer:
		return toInt(v)
	case UnixMillis:
		n := toInt(v)
		if !n.Valid {
			return sql.NullTime{}
		}
		return sql.NullTime{Time: time.UnixMilli(n.Int64).UTC(), Valid: true}
	case Timestamp:
		return toTime(v)
	default:
		s, _ := scalarText(v)
		return s
	}
}

// scalarText returns the text of a JSON string or number. ok is false for
// null, missing, objects, arrays and booleans.
func scalarText(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "", false
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(v), true
	default:
		return "", false
	}
}

// Bounds checked on coefficient and exponent before any value is expanded,
// so "1e999999999" costs no more than "1e9".
const (
	maxInt64Digits      = 19 // int64
	maxNumericIntDigits = 20 // NUMERIC(30,10)
	minNumericExponent  = -64
)

// integerDigits is the number of digits left of the decimal point of a
// non-zero d. It is zero or negative when |d| < 1.
func integerDigits(d decimal.Decimal) int64 {
	c := d.Coefficient()
	return int64(len(c.Abs(c).String())) + int64(d.Exponent())
}

func toDecimal(v json.RawMessage) decimal.NullDecimal {
	s, ok := scalarText(v)
	if !ok || s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if d.IsZero() {
		return decimal.NullDecimal{Decimal: decimal.Zero, Valid: true}
	}
	if d.Exponent() < minNumericExponent || integerDigits(d) > maxNumericIntDigits {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func toInt(v json.RawMessage) sql.NullInt64 {
	s, ok := scalarText(v)
	if !ok || s == "" {
		return sql.NullInt64{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullInt64{Int64: n, Valid: true}
	}
	// "42.0" and "1e3" are integral values in decimal notation.
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sql.NullInt64{}
	}
	if d.IsZero() {
		return sql.NullInt64{Valid: true}
	}
	if n := integerDigits(d); n <= 0 || n > maxInt64Digits {
		return sql.NullInt64{}
	}
	if !d.Equal(d.Truncate(0)) || !d.BigInt().IsInt64() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: d.IntPart(), Valid: true}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v json.RawMessage) sql.NullTime {
	s, ok := scalarText(v)
	if !ok || s == "" {
		return sql.NullTime{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return sql.NullTime{Time: t.UTC(), Valid: true}
		}
	}
	return sql.NullTime{}
}
