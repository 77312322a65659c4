package mapping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type describes how values of a column are normalized and compared.
// Drivers return the same logical value as different Go types (int vs
// int64, []byte vs string); normalization makes identity keys read from
// different drivers compare equal.
type Type uint8

// Column types.
const (
	TypeAny Type = iota
	TypeInt
	TypeString
	TypeFloat
	TypeBool
	TypeTime
	TypeBytes
)

var typeNames = [...]string{
	TypeAny:    "any",
	TypeInt:    "int",
	TypeString: "string",
	TypeFloat:  "float",
	TypeBool:   "bool",
	TypeTime:   "time",
	TypeBytes:  "bytes",
}

// String returns the type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize converts a driver value to the canonical Go type of t.
// NULL (nil) stays nil.
func (t Type) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeInt:
		return toInt(v)
	case TypeString:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		default:
			return fmt.Sprint(v), nil
		}
	case TypeFloat:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		case string:
			return strconv.ParseFloat(v, 64)
		}
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	case TypeBool:
		switch v := v.(type) {
		case bool:
			return v, nil
		case []byte:
			return parseBool(string(v))
		case string:
			return parseBool(v)
		}
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case TypeTime:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case []byte:
			return parseTime(string(v))
		case string:
			return parseTime(v)
		}
		return nil, fmt.Errorf("mapping: cannot convert %T to time", v)
	case TypeBytes:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("mapping: cannot convert %T to bytes", v)
	default:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return v, nil
	}
}

// Key normalizes v into a comparable value usable inside identity keys.
func (t Type) Key(v any) (any, error) {
	n, err := t.Normalize(v)
	if err != nil {
		return nil, err
	}
	if b, ok := n.([]byte); ok {
		return string(b), nil
	}
	return n, nil
}

// Equal reports whether a and b are the same value of type t.
func (t Type) Equal(a, b any) bool {
	na, err := t.Key(a)
	if err != nil {
		return false
	}
	nb, err := t.Key(b)
	if err != nil {
		return false
	}
	if ta, ok := na.(time.Time); ok {
		tb, ok := nb.(time.Time)
		return ok && ta.Equal(tb)
	}
	return na == nb
}

func toInt(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("mapping: %d overflows int64", v)
		}
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("mapping: %v is not integral", v)
		}
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("mapping: cannot convert %T to int", v)
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "t", "true", "1", "y", "yes":
		return true, nil
	case "f", "false", "0", "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("mapping: invalid bool %q", s)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("mapping: invalid time %q", s)
}

// MaxTupleSize is the largest number of columns in a composite identifier.
const MaxTupleSize = 6

// Tuple is the normalized value of a composite identifier. Unlike a slice
// it is comparable, so it can be part of an identity key.
type Tuple struct {
	n     int
	parts [MaxTupleSize]any
}

// NewTuple returns a tuple of the given parts.
func NewTuple(parts ...any) (Tuple, error) {
	if len(parts) > MaxTupleSize {
		return Tuple{}, fmt.Errorf("mapping: composite identifier has %d parts, max is %d", len(parts), MaxTupleSize)
	}
	var t Tuple
	t.n = copy(t.parts[:], parts)
	return t, nil
}

// Len returns the number of parts.
func (t Tuple) Len() int { return t.n }

// Parts returns the parts of the tuple.
func (t Tuple) Parts() []any { return append([]any(nil), t.parts[:t.n]...) }

// String formats the tuple for messages.
func (t Tuple) String() string {
	s := make([]string, t.n)
	for i := range s {
		s[i] = fmt.Sprint(t.parts[i])
	}
	return "(" + strings.Join(s, ", ") + ")"
}
