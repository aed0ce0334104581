package row

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// Storage is the storage class of a Value, mirroring the five SQLite
// fundamental datatypes.
type Storage int8

const (
	NullStorage Storage = iota
	IntegerStorage
	FloatStorage
	TextStorage
	BlobStorage
)

func (s Storage) String() string {
	switch s {
	case NullStorage:
		return "NULL"
	case IntegerStorage:
		return "INTEGER"
	case FloatStorage:
		return "REAL"
	case TextStorage:
		return "TEXT"
	case BlobStorage:
		return "BLOB"
	default:
		return fmt.Sprintf("Storage(%d)", int8(s))
	}
}

// Value is one column's worth of data: a NULL, 64-bit signed integer,
// 64-bit float, UTF-8 text, or binary blob. Values are immutable once
// constructed, and the zero Value is NULL.
type Value struct {
	storage Storage
	i       int64
	f       float64
	s       string
	b       []byte
}

// NullValue returns the NULL Value.
func NullValue() Value { return Value{} }

// IntValue returns an INTEGER Value.
func IntValue(i int64) Value { return Value{storage: IntegerStorage, i: i} }

// FloatValue returns a REAL Value.
func FloatValue(f float64) Value { return Value{storage: FloatStorage, f: f} }

// TextValue returns a TEXT Value.
func TextValue(s string) Value { return Value{storage: TextStorage, s: s} }

// BlobValue returns a BLOB Value holding a private copy of |b|.
// A nil |b| yields an empty (not NULL) blob.
func BlobValue(b []byte) Value {
	return Value{storage: BlobStorage, b: append([]byte{}, b...)}
}

// FromDriver boxes a value produced by a database/sql/driver.Rows
// implementation which delivers values as stored: values converted by the
// driver, like a bool or time.Time, aren't accepted. []byte values are
// referenced, not copied: the caller must Copy the Value if the driver may
// later re-use the slice.
func FromDriver(dv driver.Value) Value {
	switch v := dv.(type) {
	case nil:
		return Value{}
	case int64:
		return IntValue(v)
	case float64:
		return FloatValue(v)
	case string:
		return TextValue(v)
	case []byte:
		if v == nil {
			v = []byte{}
		}
		return Value{storage: BlobStorage, b: v}
	default:
		panic(fmt.Sprintf("unsupported driver value type %T", dv))
	}
}

// Storage of the Value.
func (v Value) Storage() Storage { return v.storage }

// IsNull is true if the Value is NULL.
func (v Value) IsNull() bool { return v.storage == NullStorage }

// Int64 returns the INTEGER of the Value, and whether the Value is an INTEGER.
func (v Value) Int64() (int64, bool) { return v.i, v.storage == IntegerStorage }

// Float64 returns the REAL of the Value, and whether the Value is a REAL.
func (v Value) Float64() (float64, bool) { return v.f, v.storage == FloatStorage }

// Text returns the TEXT of the Value, and whether the Value is TEXT.
func (v Value) Text() (string, bool) { return v.s, v.storage == TextStorage }

// Blob returns the BLOB of the Value, and whether the Value is a BLOB.
// The returned slice must not be modified.
func (v Value) Blob() ([]byte, bool) { return v.b, v.storage == BlobStorage }

// Copy returns a Value which shares no memory with |v|.
func (v Value) Copy() Value {
	if v.storage == BlobStorage {
		v.b = append([]byte{}, v.b...)
	}
	return v
}

// Driver returns the Value as a driver.Value suitable for statement binding.
func (v Value) Driver() driver.Value {
	switch v.storage {
	case IntegerStorage:
		return v.i
	case FloatStorage:
		return v.f
	case TextStorage:
		return v.s
	case BlobStorage:
		return v.b
	default:
		return nil
	}
}

// Equal compares Values using the engine's coercion rules: an INTEGER and a
// REAL are equal if they're numerically equal and the integer survives a
// round-trip through float64 without loss of precision. TEXT, BLOB and NULL
// are equal only to Values of the same storage class.
func (v Value) Equal(other Value) bool {
	switch v.storage {
	case NullStorage:
		return other.storage == NullStorage
	case IntegerStorage:
		switch other.storage {
		case IntegerStorage:
			return v.i == other.i
		case FloatStorage:
			return intEqualsFloat(v.i, other.f)
		}
	case FloatStorage:
		switch other.storage {
		case IntegerStorage:
			return intEqualsFloat(other.i, v.f)
		case FloatStorage:
			return v.f == other.f
		}
	case TextStorage:
		return other.storage == TextStorage && v.s == other.s
	case BlobStorage:
		return other.storage == BlobStorage && bytes.Equal(v.b, other.b)
	}
	return false
}

func intEqualsFloat(i int64, f float64) bool {
	if float64(i) != f {
		return false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which has no int64 representation.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return false
	}
	return int64(f) == i
}

// String renders the Value as a SQL literal.
func (v Value) String() string {
	switch v.storage {
	case IntegerStorage:
		return strconv.FormatInt(v.i, 10)
	case FloatStorage:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TextStorage:
		return strconv.Quote(v.s)
	case BlobStorage:
		return "x'" + hex.EncodeToString(v.b) + "'"
	default:
		return "NULL"
	}
}
