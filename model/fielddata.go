package model

import (
	"fmt"
)

// FieldData is a batch of values for one field. Batches are row-aligned with
// the offset range they were written or read at.
type FieldData interface {
	Type() DataType
	RowCount() int
	ByteSize() int64
}

// ScalarValue is the set of Go types a scalar field row can take. []byte rows
// carry JSON documents.
type ScalarValue interface {
	bool | int8 | int16 | int32 | int64 | float32 | float64 | string | []byte | Array
}

// ScalarData is a batch of scalar rows.
type ScalarData[T ScalarValue] struct {
	Values []T
}

func scalarTypeOf(v any) DataType {
	switch v.(type) {
	case bool:
		return DataTypeBool
	case int8:
		return DataTypeInt8
	case int16:
		return DataTypeInt16
	case int32:
		return DataTypeInt32
	case int64:
		return DataTypeInt64
	case float32:
		return DataTypeFloat
	case float64:
		return DataTypeDouble
	case string:
		return DataTypeVarChar
	case []byte:
		return DataTypeJSON
	case Array:
		return DataTypeArray
	default:
		return DataTypeNone
	}
}

// Type returns the data type corresponding to T.
func (d *ScalarData[T]) Type() DataType {
	var zero T
	return scalarTypeOf(any(zero))
}

// RowCount returns the number of rows in the batch.
func (d *ScalarData[T]) RowCount() int { return len(d.Values) }

// ByteSize returns the approximate in-memory size of the batch.
func (d *ScalarData[T]) ByteSize() int64 {
	if w := d.Type().FixedWidth(); w > 0 {
		return int64(w) * int64(len(d.Values))
	}
	var n int64
	for i := range d.Values {
		switch v := any(d.Values[i]).(type) {
		case string:
			n += int64(len(v))
		case []byte:
			n += int64(len(v))
		case Array:
			n += v.ByteSize()
		}
	}
	return n
}

// FloatVectorData is a batch of dense float vectors, Dim values per row,
// laid out flat.
type FloatVectorData struct {
	Dim    int
	Values []float32
}

// Type returns DataTypeFloatVector.
func (d *FloatVectorData) Type() DataType { return DataTypeFloatVector }

// RowCount returns the number of vectors in the batch.
func (d *FloatVectorData) RowCount() int {
	if d.Dim <= 0 {
		return 0
	}
	return len(d.Values) / d.Dim
}

// ByteSize returns the in-memory size of the batch.
func (d *FloatVectorData) ByteSize() int64 { return int64(len(d.Values)) * 4 }

// BinaryVectorData is a batch of binary vectors, Dim bits per row, laid out
// flat. Dim must be a multiple of 8.
type BinaryVectorData struct {
	Dim    int
	Values []byte
}

// Type returns DataTypeBinaryVector.
func (d *BinaryVectorData) Type() DataType { return DataTypeBinaryVector }

// RowCount returns the number of vectors in the batch.
func (d *BinaryVectorData) RowCount() int {
	if d.Dim <= 0 {
		return 0
	}
	return len(d.Values) / (d.Dim / 8)
}

// ByteSize returns the in-memory size of the batch.
func (d *BinaryVectorData) ByteSize() int64 { return int64(len(d.Values)) }

// PrimaryKeys extracts primary keys from a pk field batch. Only int64 and
// varchar fields can be primary keys.
func PrimaryKeys(fd FieldData) ([]PrimaryKey, error) {
	switch d := fd.(type) {
	case *ScalarData[int64]:
		pks := make([]PrimaryKey, len(d.Values))
		for i, v := range d.Values {
			pks[i] = NewInt64PrimaryKey(v)
		}
		return pks, nil
	case *ScalarData[string]:
		pks := make([]PrimaryKey, len(d.Values))
		for i, v := range d.Values {
			pks[i] = NewVarCharPrimaryKey(v)
		}
		return pks, nil
	default:
		return nil, fmt.Errorf("primary key field has unsupported type %s", fd.Type())
	}
}
