// Package schema describes the field layout of a collection as seen by one
// segment. The segment receives a validated schema at open time and dispatches
// per-field storage on it once, not per row.
package schema

import (
	"errors"
	"fmt"

	"github.com/growseg/growseg/model"
)

// FieldSchema describes one user field.
type FieldSchema struct {
	ID           model.FieldID
	Name         string
	DataType     model.DataType
	IsPrimaryKey bool

	// Dim is the vector dimension; bits for binary vectors.
	Dim int
	// ElementType is the element kind of array fields.
	ElementType model.DataType
}

// CollectionSchema is the ordered set of user fields of a collection.
// The two system fields (row id, timestamp) are implicit and managed by the
// segment itself.
type CollectionSchema struct {
	Name   string
	Fields []FieldSchema
}

// Field returns the schema of the field with the given ID.
func (s *CollectionSchema) Field(id model.FieldID) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// PrimaryField returns the primary-key field.
func (s *CollectionSchema) PrimaryField() (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.IsPrimaryKey {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Validate checks the schema for structural errors.
func (s *CollectionSchema) Validate() error {
	if len(s.Fields) == 0 {
		return errors.New("schema has no fields")
	}

	seen := make(map[model.FieldID]struct{}, len(s.Fields))
	pkCount := 0

	for _, f := range s.Fields {
		if f.ID < model.StartOfUserFieldID {
			return fmt.Errorf("field %q: id %d is reserved for system fields", f.Name, f.ID)
		}
		if _, ok := seen[f.ID]; ok {
			return fmt.Errorf("field %q: duplicate id %d", f.Name, f.ID)
		}
		seen[f.ID] = struct{}{}

		switch f.DataType {
		case model.DataTypeFloatVector:
			if f.Dim <= 0 {
				return fmt.Errorf("field %q: float vector needs a positive dim", f.Name)
			}
		case model.DataTypeBinaryVector:
			if f.Dim <= 0 || f.Dim%8 != 0 {
				return fmt.Errorf("field %q: binary vector dim must be a positive multiple of 8", f.Name)
			}
		case model.DataTypeArray:
			if f.ElementType == model.DataTypeNone {
				return fmt.Errorf("field %q: array needs an element type", f.Name)
			}
		case model.DataTypeNone:
			return fmt.Errorf("field %q: missing data type", f.Name)
		}

		if f.IsPrimaryKey {
			pkCount++
			if f.DataType != model.DataTypeInt64 && f.DataType != model.DataTypeVarChar {
				return fmt.Errorf("field %q: primary key must be int64 or varchar, got %s", f.Name, f.DataType)
			}
		}
	}

	if pkCount != 1 {
		return fmt.Errorf("schema needs exactly one primary-key field, got %d", pkCount)
	}
	return nil
}
