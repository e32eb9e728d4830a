// Package pkindex maps primary keys to the row offsets holding them.
// Duplicate keys are legal while deletes are unresolved; lookups return all
// matches under a timestamp bound and leave disambiguation to the caller's
// tombstone comparison.
package pkindex

import (
	"slices"
	"sync"

	"github.com/growseg/growseg/model"
)

const numShards = 16

// TimestampView resolves a row offset to its insertion timestamp. The index
// never owns a second copy of the timestamp column.
type TimestampView func(offset int64) model.Timestamp

// Index is a sharded pk -> offsets map.
type Index struct {
	tsAt   TimestampView
	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[model.PrimaryKey][]int64
}

// New creates an index resolving row timestamps through tsAt.
func New(tsAt TimestampView) *Index {
	ix := &Index{tsAt: tsAt}
	for i := range ix.shards {
		ix.shards[i].m = make(map[model.PrimaryKey][]int64)
	}
	return ix
}

func hashPK(pk model.PrimaryKey) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	if pk.Type() == model.DataTypeVarChar {
		s := pk.VarChar()
		for i := 0; i < len(s); i++ {
			h ^= uint32(s[i])
			h *= prime32
		}
		return h
	}
	v := uint64(pk.Int64())
	for i := 0; i < 8; i++ {
		h ^= uint32(v >> (8 * i) & 0xff)
		h *= prime32
	}
	return h
}

func (ix *Index) shardFor(pk model.PrimaryKey) *shard {
	return &ix.shards[hashPK(pk)&(numShards-1)]
}

// Insert registers one pk at the given offset.
func (ix *Index) Insert(pk model.PrimaryKey, offset int64) {
	s := ix.shardFor(pk)
	s.mu.Lock()
	lst := s.m[pk]
	// Keep per-key offsets sorted; concurrent writers land out of order.
	i, _ := slices.BinarySearch(lst, offset)
	s.m[pk] = slices.Insert(lst, i, offset)
	s.mu.Unlock()
}

// InsertBatch registers pks[i] at offsets[i] for all i.
func (ix *Index) InsertBatch(pks []model.PrimaryKey, offsets []int64) {
	for i, pk := range pks {
		ix.Insert(pk, offsets[i])
	}
}

// Contains reports whether the pk was ever inserted.
func (ix *Index) Contains(pk model.PrimaryKey) bool {
	s := ix.shardFor(pk)
	s.mu.RLock()
	_, ok := s.m[pk]
	s.mu.RUnlock()
	return ok
}

// Lookup returns the offsets holding pk whose row timestamp is <= maxTS,
// ordered by offset. A never-written key yields an empty result, not an
// error.
func (ix *Index) Lookup(pk model.PrimaryKey, maxTS model.Timestamp) []int64 {
	s := ix.shardFor(pk)
	s.mu.RLock()
	lst := s.m[pk]
	var out []int64
	for _, off := range lst {
		if ix.tsAt(off) <= maxTS {
			out = append(out, off)
		}
	}
	s.mu.RUnlock()
	return out
}
