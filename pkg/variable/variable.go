// Package variable converts between native Go values and the engine's typed
// variable wire representation.
//
// The engine tags every variable with a type name. ToWireValue picks the tag
// from the runtime type of the native value; FromWireValue reverses it and
// accepts both freshly encoded values and values that went through a JSON
// round trip (numbers as float64, dates and byte arrays as strings).
package variable

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Type is the engine-side type tag of a variable.
type Type string

const (
	TypeInteger Type = "Integer"
	TypeLong    Type = "Long"
	TypeShort   Type = "Short"
	TypeDouble  Type = "Double"
	TypeNumber  Type = "Number"
	TypeString  Type = "String"
	TypeBoolean Type = "Boolean"
	TypeBytes   Type = "Bytes"
	TypeDate    Type = "Date"
	TypeObject  Type = "Object"
	TypeNull    Type = "Null"

	// TypeUntyped leaves the type empty so the engine infers it.
	TypeUntyped Type = ""
)

// DateLayout is the engine's date format (millisecond precision, numeric zone).
const DateLayout = "2006-01-02T15:04:05.000-0700"

// TypedValue is a single variable as it travels to and from the engine.
type TypedValue struct {
	Type      Type           `json:"type,omitempty" yaml:"type,omitempty"`
	Value     any            `json:"value" yaml:"value"`
	ValueInfo map[string]any `json:"valueInfo,omitempty" yaml:"valueInfo,omitempty"`
}

// ToWireValue wraps v in a TypedValue.
//
// Specific numeric kinds are checked before the generic Number fallback so
// that an int32 is always an Integer and never a Number.
//
// Dates use DateLayout, which keeps milliseconds only: a time.Time comes
// back from FromWireValue truncated to the millisecond, so it round-trips
// equal only when it has no sub-millisecond part.
func ToWireValue(v any) TypedValue {
	switch x := v.(type) {
	case nil:
		return TypedValue{Type: TypeNull}
	case int32:
		return TypedValue{Type: TypeInteger, Value: x}
	case string:
		return TypedValue{Type: TypeString, Value: x}
	case bool:
		return TypedValue{Type: TypeBoolean, Value: x}
	case []byte:
		return TypedValue{Type: TypeBytes, Value: base64.StdEncoding.EncodeToString(x)}
	case time.Time:
		return TypedValue{Type: TypeDate, Value: x.Format(DateLayout)}
	case *time.Time:
		if x == nil {
			return TypedValue{Type: TypeNull}
		}
		return TypedValue{Type: TypeDate, Value: x.Format(DateLayout)}
	case int64:
		return TypedValue{Type: TypeLong, Value: x}
	case int:
		return TypedValue{Type: TypeLong, Value: int64(x)}
	case int16:
		return TypedValue{Type: TypeShort, Value: x}
	case float64:
		return TypedValue{Type: TypeDouble, Value: x}
	case json.Number:
		return TypedValue{Type: TypeNumber, Value: x}
	case int8, uint, uint8, uint16, uint32, uint64, float32:
		return TypedValue{Type: TypeNumber, Value: json.Number(fmt.Sprint(x))}
	}
	return TypedValue{Type: TypeUntyped, Value: v}
}

// FromWireValue unwraps tv into its canonical native Go value:
// Integer→int32, Long→int64, Short→int16, Double→float64, Number→json.Number,
// String→string, Boolean→bool, Bytes→[]byte, Date→time.Time. Object values
// are decoded according to their serialization format. Untyped values are
// returned unchanged.
func FromWireValue(tv TypedValue) (any, error) {
	return defaultCodec.FromWireValue(tv)
}

// FromWireValue unwraps tv using the object decoders installed on c.
func (c *Codec) FromWireValue(tv TypedValue) (any, error) {
	if tv.Value == nil {
		return nil, nil
	}
	switch tv.Type {
	case TypeNull:
		return nil, nil
	case TypeInteger:
		n, err := toInt64(tv.Value, math.MinInt32, math.MaxInt32)
		return int32(n), err
	case TypeLong:
		return toInt64(tv.Value, math.MinInt64, math.MaxInt64)
	case TypeShort:
		n, err := toInt64(tv.Value, math.MinInt16, math.MaxInt16)
		return int16(n), err
	case TypeDouble:
		return toFloat64(tv.Value)
	case TypeNumber:
		return toNumber(tv.Value)
	case TypeString:
		s, ok := tv.Value.(string)
		if !ok {
			return fmt.Sprint(tv.Value), nil
		}
		return s, nil
	case TypeBoolean:
		b, ok := tv.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("variable: expected boolean, got %T", tv.Value)
		}
		return b, nil
	case TypeBytes:
		return toBytes(tv.Value)
	case TypeDate:
		return toTime(tv.Value)
	case TypeObject:
		return c.decodeObject(tv)
	}
	return tv.Value, nil
}

// Encode converts every entry of vars with ToWireValue.
func Encode(vars map[string]any) map[string]TypedValue {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]TypedValue, len(vars))
	for name, v := range vars {
		out[name] = ToWireValue(v)
	}
	return out
}

func toInt64(v any, lo, hi int64) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("variable: %v is not an integer", x)
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("variable: %w", err)
		}
		n = i
	default:
		return 0, fmt.Errorf("variable: expected integer, got %T", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("variable: %d out of range", n)
	}
	return n, nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	}
	return 0, fmt.Errorf("variable: expected double, got %T", v)
}

func toNumber(v any) (json.Number, error) {
	switch x := v.(type) {
	case json.Number:
		return x, nil
	case string:
		return json.Number(x), nil
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return json.Number(fmt.Sprint(x)), nil
	}
	return "", fmt.Errorf("variable: expected number, got %T", v)
}

func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return nil, fmt.Errorf("variable: decode bytes: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("variable: expected bytes, got %T", v)
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		return ParseDate(x)
	}
	return time.Time{}, fmt.Errorf("variable: expected date, got %T", v)
}

// ParseDate accepts the engine date layout and RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("variable: parse date %q: %w", s, err)
	}
	return t, nil
}
