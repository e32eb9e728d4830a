package growseg

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/growseg/growseg/model"
	"github.com/growseg/growseg/schema"
)

// ContainsPK reports whether any row was ever written with the key,
// visible or not.
func (s *Segment) ContainsPK(pk model.PrimaryKey) bool {
	return s.insert.ContainsPK(pk)
}

// SearchPK returns the offsets of rows holding pk with a row timestamp
// at or below ts, ordered by offset.
func (s *Segment) SearchPK(pk model.PrimaryKey, ts model.Timestamp) []int64 {
	return s.insert.SearchPK(pk, ts)
}

// BuildDeleteMask ORs into dst the offsets of rows killed by tombstones
// with timestamp at or below ts, considering only rows below insBarrier.
// A row written at a tombstone's own timestamp survives it. No-op when no
// tombstone falls at or below ts; repeated calls are idempotent.
func (s *Segment) BuildDeleteMask(dst *roaring.Bitmap, insBarrier int64, ts model.Timestamp) {
	if dst == nil || insBarrier <= 0 {
		return
	}
	delBarrier := s.deleted.DeleteBarrier(ts)
	if delBarrier == 0 {
		return
	}
	dst.Or(s.deleted.DeleteBitmap(s.insert, delBarrier, insBarrier))
}

// FetchByOffsets copies one field's values at the given offsets, in caller
// order. Offsets normally come from Search or SearchPK. Float vector
// fields served by the interim index route each offset by its covered
// prefix: rows below it read from the index's own store, rows above it
// from raw chunks.
func (s *Segment) FetchByOffsets(fieldID model.FieldID, offsets []int64) (model.FieldData, error) {
	const op = "fetch"
	if s.closed.Load() {
		return nil, translateError(op, ErrSegmentClosed)
	}
	f, ok := s.schema.Field(fieldID)
	if !ok {
		return nil, translateError(op, &ErrFieldNotFound{Field: fieldID})
	}
	if len(offsets) == 0 {
		return nil, translateError(op, ErrEmptyBatch)
	}
	if s.interim.Enabled(fieldID) {
		data, err := s.fetchVectorsRouted(f, offsets)
		if err != nil {
			return nil, opError(CodeInvalidInput, op, err)
		}
		return data, nil
	}
	data, err := s.insert.FetchByOffsets(fieldID, offsets)
	if err != nil {
		return nil, opError(CodeInvalidInput, op, err)
	}
	return data, nil
}

// fetchVectorsRouted splits the offsets around the covered prefix, reads
// each side from its store, and stitches the rows back in caller order.
func (s *Segment) fetchVectorsRouted(f schema.FieldSchema, offsets []int64) (model.FieldData, error) {
	dim := int64(f.Dim)
	out := make([]float32, int64(len(offsets))*dim)
	for {
		covered := s.interim.CoveredPrefix(f.ID)
		var rawPos, idxPos []int
		var rawOffs, idxOffs []int64
		for i, off := range offsets {
			if off < covered {
				idxPos = append(idxPos, i)
				idxOffs = append(idxOffs, off)
			} else {
				rawPos = append(rawPos, i)
				rawOffs = append(rawOffs, off)
			}
		}
		if len(rawOffs) > 0 {
			data, err := s.insert.FetchByOffsets(f.ID, rawOffs)
			if err != nil {
				// Chunks under a freshly advanced covered prefix may have
				// been reclaimed since the snapshot; resplit and retry.
				if s.interim.CoveredPrefix(f.ID) > covered {
					continue
				}
				return nil, err
			}
			vals := data.(*model.FloatVectorData).Values
			for i, pos := range rawPos {
				copy(out[int64(pos)*dim:(int64(pos)+1)*dim], vals[int64(i)*dim:(int64(i)+1)*dim])
			}
		}
		if len(idxOffs) > 0 {
			data, err := s.interim.FetchVectors(f.ID, idxOffs)
			if err != nil {
				return nil, err
			}
			vals := data.(*model.FloatVectorData).Values
			for i, pos := range idxPos {
				copy(out[int64(pos)*dim:(int64(pos)+1)*dim], vals[int64(i)*dim:(int64(i)+1)*dim])
			}
		}
		return &model.FloatVectorData{Dim: f.Dim, Values: out}, nil
	}
}
