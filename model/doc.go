// Package model defines the core value types shared across the segment.
//
// # Identity Types
//
//   - Timestamp: logical timestamp assigned upstream, non-decreasing per segment
//   - FieldID: schema field identifier (system fields 0/1, user fields >= 100)
//   - UniqueID: allocator-issued identifier for generated artifacts
//   - PrimaryKey: tagged union over int64 and varchar keys
//
// # Field Data
//
// FieldData carries one batch of values for one field. Scalar batches use the
// generic ScalarData[T]; dense vectors use FloatVectorData and
// BinaryVectorData with a flat row-major layout.
package model
