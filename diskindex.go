package growseg

import (
	"context"
	"io"

	"github.com/growseg/growseg/model"
)

// DiskIndexBuilder builds a disk-resident vector index from a segment's
// vectors at flush time. Implementations receive the full visible prefix
// of one float vector field plus the scalar columns for filtered-search
// acceleration, stage the index locally, upload it, and report the
// uploaded files.
type DiskIndexBuilder interface {
	Build(ctx context.Context, field model.FieldID, dim int, vectors []float32, scalars map[model.FieldID]model.FieldData) (*BuiltIndex, error)
}

// BuiltIndex describes one built disk index.
type BuiltIndex struct {
	// LocalPathPrefix is the directory the builder staged files under.
	LocalPathPrefix string

	// Files maps uploaded remote paths to byte sizes.
	Files map[string]int64

	// Handle owns builder-side resources. The segment takes exclusive
	// ownership and closes it when a newer index for the field replaces
	// it, or on Close.
	Handle io.Closer
}

// registerIndex stores the field's built index, tearing down the handle it
// replaces.
func (s *Segment) registerIndex(field model.FieldID, idx *BuiltIndex) error {
	s.indexMu.Lock()
	prev := s.indexes[field]
	s.indexes[field] = idx
	s.indexMu.Unlock()
	if prev != nil && prev.Handle != nil {
		return prev.Handle.Close()
	}
	return nil
}

// DiskIndex returns the latest built index of the field, if any.
func (s *Segment) DiskIndex(field model.FieldID) (*BuiltIndex, bool) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	idx, ok := s.indexes[field]
	return idx, ok
}

func (s *Segment) closeIndexes() error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	var firstErr error
	for field, idx := range s.indexes {
		if idx.Handle != nil {
			if err := idx.Handle.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(s.indexes, field)
	}
	return firstErr
}
