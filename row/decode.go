package row

import (
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"
)

// ValueDecoder is implemented by pointers to types which decode themselves
// from a non-NULL Value.
type ValueDecoder interface {
	DecodeValue(Value) error
}

// DecodeError is the panic value of a failed decoding. A DecodeError reflects
// a mismatch between the stored data and the caller's expectation of it (a
// logic error) rather than an environmental condition, and is not returned.
type DecodeError struct {
	Value  Value
	Target string // Requested Go type.
	Column string // Column name, if known.
	Reason string
}

func (e *DecodeError) Error() string {
	var col string
	if e.Column != "" {
		col = fmt.Sprintf(" (column %q)", e.Column)
	}
	return fmt.Sprintf("could not decode %s%s as %s: %s", e.Value, col, e.Target, e.Reason)
}

// Decode converts |v| to T. It panics with a *DecodeError if |v| is NULL,
// or if its storage class cannot be coerced to T.
//
// Supported targets are Value, int, int8, int16, int32, int64, uint8, uint16,
// uint32, uint64, float32, float64, bool, string, []byte, and types whose
// pointers implement ValueDecoder.
func Decode[T any](v Value) T {
	var out T
	if err := decodeInto(&out, v); err != nil {
		err.Target = typeName[T]()
		panic(err)
	}
	return out
}

// DecodeOptional converts |v| to T, returning false if |v| is NULL.
// It panics with a *DecodeError if |v| cannot be coerced to T.
func DecodeOptional[T any](v Value) (T, bool) {
	var out T
	if _, isValue := any(&out).(*Value); v.IsNull() && !isValue {
		return out, false
	}
	if err := decodeInto(&out, v); err != nil {
		err.Target = typeName[T]()
		panic(err)
	}
	return out, true
}

// Get decodes column |index| of |r| as a non-optional T.
func Get[T any](r Row, index int) T {
	var out T
	if err := decodeInto(&out, r.Value(index)); err != nil {
		err.Target, err.Column = typeName[T](), r.Column(index)
		panic(err)
	}
	return out
}

// GetOptional decodes column |index| of |r| as T, returning false if NULL.
func GetOptional[T any](r Row, index int) (T, bool) {
	var v = r.Value(index)
	if v.IsNull() {
		var zero T
		return zero, false
	}
	return Get[T](r, index), true
}

// Named decodes the leftmost column matching |name| (case-insensitive) as a
// non-optional T. A missing column panics with a *DecodeError.
func Named[T any](r Row, name string) T {
	var index, ok = r.Index(name)
	if !ok {
		panic(&DecodeError{Target: typeName[T](), Column: name, Reason: "no such column"})
	}
	return Get[T](r, index)
}

// NamedOptional decodes the leftmost column matching |name| (case-insensitive)
// as T, returning false if the column is missing or NULL.
func NamedOptional[T any](r Row, name string) (T, bool) {
	var index, ok = r.Index(name)
	if !ok {
		var zero T
		return zero, false
	}
	return GetOptional[T](r, index)
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

func decodeInto(dst any, v Value) *DecodeError {
	if out, ok := dst.(*Value); ok {
		*out = v.Copy()
		return nil
	}
	if v.IsNull() {
		return &DecodeError{Value: v, Reason: "unexpected NULL"}
	}

	switch out := dst.(type) {
	case ValueDecoder:
		if err := out.DecodeValue(v); err != nil {
			return &DecodeError{Value: v, Reason: err.Error()}
		}
		return nil
	case *int64:
		return decodeInt(v, math.MinInt64, math.MaxInt64, func(i int64) { *out = i })
	case *int:
		return decodeInt(v, math.MinInt, math.MaxInt, func(i int64) { *out = int(i) })
	case *int32:
		return decodeInt(v, math.MinInt32, math.MaxInt32, func(i int64) { *out = int32(i) })
	case *int16:
		return decodeInt(v, math.MinInt16, math.MaxInt16, func(i int64) { *out = int16(i) })
	case *int8:
		return decodeInt(v, math.MinInt8, math.MaxInt8, func(i int64) { *out = int8(i) })
	case *uint64:
		return decodeInt(v, 0, math.MaxInt64, func(i int64) { *out = uint64(i) })
	case *uint32:
		return decodeInt(v, 0, math.MaxUint32, func(i int64) { *out = uint32(i) })
	case *uint16:
		return decodeInt(v, 0, math.MaxUint16, func(i int64) { *out = uint16(i) })
	case *uint8:
		return decodeInt(v, 0, math.MaxUint8, func(i int64) { *out = uint8(i) })
	case *float64:
		var f, err = decodeFloat(v)
		*out = f
		return err
	case *float32:
		var f, err = decodeFloat(v)
		*out = float32(f)
		return err
	case *bool:
		switch v.storage {
		case IntegerStorage:
			*out = v.i != 0
			return nil
		case FloatStorage:
			*out = v.f != 0
			return nil
		}
	case *string:
		switch v.storage {
		case TextStorage:
			*out = v.s
			return nil
		case BlobStorage:
			if utf8.Valid(v.b) {
				*out = string(v.b)
				return nil
			}
			return &DecodeError{Value: v, Reason: "blob is not valid UTF-8"}
		}
	case *[]byte:
		switch v.storage {
		case BlobStorage:
			*out = append([]byte{}, v.b...)
			return nil
		case TextStorage:
			*out = []byte(v.s)
			return nil
		}
	default:
		return &DecodeError{Value: v, Reason: "unsupported target type"}
	}
	return &DecodeError{Value: v, Reason: fmt.Sprintf("incompatible storage class %s", v.storage)}
}

func decodeInt(v Value, min, max int64, set func(int64)) *DecodeError {
	var i int64

	switch v.storage {
	case IntegerStorage:
		i = v.i
	case FloatStorage:
		if v.f != math.Trunc(v.f) || v.f < math.MinInt64 || v.f >= math.MaxInt64 {
			return &DecodeError{Value: v, Reason: "real has no exact integer representation"}
		}
		i = int64(v.f)
	default:
		return &DecodeError{Value: v, Reason: fmt.Sprintf("incompatible storage class %s", v.storage)}
	}
	if i < min || i > max {
		return &DecodeError{Value: v, Reason: "integer out of range"}
	}
	set(i)
	return nil
}

func decodeFloat(v Value) (float64, *DecodeError) {
	switch v.storage {
	case IntegerStorage:
		return float64(v.i), nil
	case FloatStorage:
		return v.f, nil
	}
	return 0, &DecodeError{Value: v, Reason: fmt.Sprintf("incompatible storage class %s", v.storage)}
}
