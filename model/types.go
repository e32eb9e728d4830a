package model

import (
	"fmt"
)

// Timestamp is a logical timestamp assigned by the upstream ingestion
// pipeline. Timestamps arrive non-decreasing per segment; the segment relies
// on this order for its snapshot cursor and never re-sorts.
type Timestamp uint64

// MaxTimestamp scopes a read to everything ever written.
const MaxTimestamp Timestamp = ^Timestamp(0)

// FieldID identifies a field within a collection schema.
type FieldID int64

// System field IDs. User fields start at StartOfUserFieldID.
const (
	RowIDField     FieldID = 0
	TimestampField FieldID = 1

	StartOfUserFieldID FieldID = 100
)

// UniqueID is an identifier issued by the allocator (log IDs, segment IDs).
type UniqueID int64

// DataType enumerates the value kinds a field can hold.
type DataType uint8

const (
	DataTypeNone DataType = iota
	DataTypeBool
	DataTypeInt8
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeFloat
	DataTypeDouble
	DataTypeVarChar
	DataTypeJSON
	DataTypeArray
	DataTypeFloatVector
	DataTypeBinaryVector
)

// String returns a human-readable name for the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeBool:
		return "Bool"
	case DataTypeInt8:
		return "Int8"
	case DataTypeInt16:
		return "Int16"
	case DataTypeInt32:
		return "Int32"
	case DataTypeInt64:
		return "Int64"
	case DataTypeFloat:
		return "Float"
	case DataTypeDouble:
		return "Double"
	case DataTypeVarChar:
		return "VarChar"
	case DataTypeJSON:
		return "JSON"
	case DataTypeArray:
		return "Array"
	case DataTypeFloatVector:
		return "FloatVector"
	case DataTypeBinaryVector:
		return "BinaryVector"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(d))
	}
}

// IsVector reports whether the type is a vector type.
func (d DataType) IsVector() bool {
	return d == DataTypeFloatVector || d == DataTypeBinaryVector
}

// IsVariableWidth reports whether rows of this type have no fixed byte width.
func (d DataType) IsVariableWidth() bool {
	return d == DataTypeVarChar || d == DataTypeJSON || d == DataTypeArray
}

// FixedWidth returns the byte width of one scalar row, or 0 for
// variable-width and vector types.
func (d DataType) FixedWidth() int {
	switch d {
	case DataTypeBool, DataTypeInt8:
		return 1
	case DataTypeInt16:
		return 2
	case DataTypeInt32, DataTypeFloat:
		return 4
	case DataTypeInt64, DataTypeDouble:
		return 8
	default:
		return 0
	}
}

// PrimaryKey is the user-facing stable identifier of a row. It is a tagged
// union over int64 and varchar keys, comparable and usable as a map key.
type PrimaryKey struct {
	dt DataType
	i  int64
	s  string
}

// NewInt64PrimaryKey returns an int64-typed primary key.
func NewInt64PrimaryKey(v int64) PrimaryKey {
	return PrimaryKey{dt: DataTypeInt64, i: v}
}

// NewVarCharPrimaryKey returns a varchar-typed primary key.
func NewVarCharPrimaryKey(v string) PrimaryKey {
	return PrimaryKey{dt: DataTypeVarChar, s: v}
}

// Type returns DataTypeInt64 or DataTypeVarChar, or DataTypeNone for the
// zero key.
func (pk PrimaryKey) Type() DataType { return pk.dt }

// Int64 returns the numeric key value. Valid only for int64 keys.
func (pk PrimaryKey) Int64() int64 { return pk.i }

// VarChar returns the string key value. Valid only for varchar keys.
func (pk PrimaryKey) VarChar() string { return pk.s }

// Less orders keys of the same type; int64 keys sort before varchar keys.
func (pk PrimaryKey) Less(other PrimaryKey) bool {
	if pk.dt != other.dt {
		return pk.dt < other.dt
	}
	if pk.dt == DataTypeVarChar {
		return pk.s < other.s
	}
	return pk.i < other.i
}

// ByteSize returns the approximate in-memory size of the key.
func (pk PrimaryKey) ByteSize() int64 {
	if pk.dt == DataTypeVarChar {
		return int64(len(pk.s))
	}
	return 8
}

// String returns a string representation of the key.
func (pk PrimaryKey) String() string {
	if pk.dt == DataTypeVarChar {
		return pk.s
	}
	return fmt.Sprintf("%d", pk.i)
}

// Array is one row of an array-typed field. Numeric elements live in Int64s,
// string elements in Strings; ElementType says which side is populated.
type Array struct {
	ElementType DataType
	Int64s      []int64
	Strings     []string
}

// Len returns the element count of the array row.
func (a Array) Len() int {
	if a.ElementType == DataTypeVarChar {
		return len(a.Strings)
	}
	return len(a.Int64s)
}

// ByteSize returns the approximate in-memory size of the array row.
func (a Array) ByteSize() int64 {
	if a.ElementType == DataTypeVarChar {
		var n int64
		for _, s := range a.Strings {
			n += int64(len(s))
		}
		return n
	}
	return int64(len(a.Int64s)) * 8
}
