package growseg

import (
	"errors"
	"fmt"

	"github.com/growseg/growseg/model"
)

// Code classifies a failed operation for callers that branch on failure
// class rather than concrete cause.
type Code int

const (
	// CodeInvalidInput marks malformed requests: row-count mismatches,
	// missing or unknown fields, bad dimensions, operations after Close.
	CodeInvalidInput Code = iota + 1
	// CodeUnsupportedType marks data types an operation cannot serve.
	CodeUnsupportedType
	// CodeIndexFailure marks interim or disk index construction failures.
	CodeIndexFailure
	// CodeLoadFailure marks failures while restoring persisted state.
	CodeLoadFailure
	// CodeStoreFailure marks failures while persisting state.
	CodeStoreFailure
)

func (c Code) String() string {
	switch c {
	case CodeInvalidInput:
		return "invalid input"
	case CodeUnsupportedType:
		return "unsupported type"
	case CodeIndexFailure:
		return "index failure"
	case CodeLoadFailure:
		return "load failure"
	case CodeStoreFailure:
		return "store failure"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

var (
	// ErrSegmentClosed is returned by every operation after Close.
	ErrSegmentClosed = errors.New("segment closed")

	// ErrRowCountMismatch is returned when parallel slices or field batches
	// disagree on the number of rows.
	ErrRowCountMismatch = errors.New("row count mismatch")

	// ErrMissingField is returned when an insert or load batch omits a
	// schema field.
	ErrMissingField = errors.New("missing field")

	// ErrEmptyBatch is returned when an operation is given nothing to do.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Field    model.FieldID
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("field %d: dimension mismatch: expected %d, got %d", e.Field, e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrUnsupportedDataType indicates a data type the operation cannot store
// or search.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrUnsupportedDataType struct {
	DataType model.DataType
	cause    error
}

func (e *ErrUnsupportedDataType) Error() string {
	return fmt.Sprintf("unsupported data type %s", e.DataType)
}

func (e *ErrUnsupportedDataType) Unwrap() error { return e.cause }

// ErrFieldNotFound indicates a field id absent from the schema.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrFieldNotFound struct {
	Field model.FieldID
	cause error
}

func (e *ErrFieldNotFound) Error() string {
	return fmt.Sprintf("field %d not found", e.Field)
}

func (e *ErrFieldNotFound) Unwrap() error { return e.cause }

// Error is the uniform failure envelope of segment operations. Callers can
// reach the cause through errors.Is and errors.As.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("growseg: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// opError wraps err with an operation name and failure class.
func opError(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// translateError classifies validation failures into coded errors and
// passes anything unrecognized through untouched.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	switch {
	case errors.Is(err, ErrSegmentClosed),
		errors.Is(err, ErrRowCountMismatch),
		errors.Is(err, ErrMissingField),
		errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrInvalidK):
		return opError(CodeInvalidInput, op, err)
	}

	var dm *ErrDimensionMismatch
	if errors.As(err, &dm) {
		return opError(CodeInvalidInput, op, err)
	}
	var fnf *ErrFieldNotFound
	if errors.As(err, &fnf) {
		return opError(CodeInvalidInput, op, err)
	}
	var udt *ErrUnsupportedDataType
	if errors.As(err, &udt) {
		return opError(CodeUnsupportedType, op, err)
	}

	return err
}
