package variable

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// Assign stores v into dst, converting between the representations produced
// by FromWireValue (or by a JSON decode of the claim response) and the
// field's declared type. dst must be settable and addressable.
func Assign(dst reflect.Value, v any) error {
	if !dst.CanSet() {
		return fmt.Errorf("variable: destination of type %s is not settable", dst.Type())
	}
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch x := v.(type) {
	case json.RawMessage:
		if err := json.Unmarshal(x, dst.Addr().Interface()); err != nil {
			return fmt.Errorf("variable: unmarshal into %s: %w", dst.Type(), err)
		}
		return nil
	case json.Number:
		return assignNumberString(dst, string(x))
	case string:
		switch {
		case dst.Type() == timeType:
			t, err := ParseDate(x)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(t))
			return nil
		case dst.Type() == bytesType:
			b, err := toBytes(x)
			if err != nil {
				return err
			}
			dst.SetBytes(b)
			return nil
		case isNumeric(dst.Kind()):
			return assignNumberString(dst, x)
		}
	}

	if isNumeric(src.Kind()) && isNumeric(dst.Kind()) {
		return assignNumber(dst, src)
	}
	if src.Kind() == dst.Kind() && src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}

	// Structured values (maps decoded from JSON, slices of any) go through
	// a JSON round trip into the concrete field type.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("variable: cannot assign %T to %s: %w", v, dst.Type(), err)
	}
	if err := json.Unmarshal(raw, dst.Addr().Interface()); err != nil {
		return fmt.Errorf("variable: cannot assign %T to %s: %w", v, dst.Type(), err)
	}
	return nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func assignNumber(dst, src reflect.Value) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		switch src.Kind() {
		case reflect.Float32, reflect.Float64:
			f := src.Float()
			if f != float64(int64(f)) {
				return fmt.Errorf("variable: %v is not an integer", f)
			}
			n = int64(f)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = int64(src.Uint())
		default:
			n = src.Int()
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("variable: %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		switch src.Kind() {
		case reflect.Float32, reflect.Float64:
			f := src.Float()
			if f < 0 || f != float64(uint64(f)) {
				return fmt.Errorf("variable: %v is not an unsigned integer", f)
			}
			n = uint64(f)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if src.Int() < 0 {
				return fmt.Errorf("variable: %d is negative", src.Int())
			}
			n = uint64(src.Int())
		default:
			n = src.Uint()
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("variable: %d overflows %s", n, dst.Type())
		}
		dst.SetUint(n)
	default:
		var f float64
		switch src.Kind() {
		case reflect.Float32, reflect.Float64:
			f = src.Float()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(src.Uint())
		default:
			f = float64(src.Int())
		}
		dst.SetFloat(f)
	}
	return nil
}

func assignNumberString(dst reflect.Value, s string) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("variable: %w", err)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("variable: %w", err)
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("variable: %w", err)
		}
		dst.SetFloat(f)
	case reflect.String:
		dst.SetString(s)
	default:
		return fmt.Errorf("variable: cannot assign number %q to %s", s, dst.Type())
	}
	return nil
}
