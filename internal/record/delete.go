package record

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/growseg/growseg/model"
)

// tombstones is one immutable snapshot of the delete log, ordered by
// (timestamp, primary key).
type tombstones struct {
	pks   []model.PrimaryKey
	tss   []model.Timestamp
	bytes int64
}

type tombSorter struct {
	pks []model.PrimaryKey
	tss []model.Timestamp
}

func (s *tombSorter) Len() int { return len(s.tss) }

func (s *tombSorter) Less(i, j int) bool {
	if s.tss[i] != s.tss[j] {
		return s.tss[i] < s.tss[j]
	}
	return s.pks[i].Less(s.pks[j])
}

func (s *tombSorter) Swap(i, j int) {
	s.tss[i], s.tss[j] = s.tss[j], s.tss[i]
	s.pks[i], s.pks[j] = s.pks[j], s.pks[i]
}

// DeletedRecord is the segment's tombstone log. Pushes merge sorted batches
// into a fresh snapshot swapped in atomically, so concurrent bitmap reads
// keep using the prior snapshot without blocking. Tombstones are never
// removed.
type DeletedRecord struct {
	mu   sync.Mutex // serializes merges
	snap atomic.Pointer[tombstones]
}

// NewDeletedRecord returns an empty log.
func NewDeletedRecord() *DeletedRecord {
	r := &DeletedRecord{}
	r.snap.Store(&tombstones{})
	return r
}

// Push merges a batch of (pk, timestamp) tombstones into the log. The batch
// is sorted by (timestamp, pk) first; pks and tss must have equal length.
func (r *DeletedRecord) Push(pks []model.PrimaryKey, tss []model.Timestamp) {
	n := len(pks)
	if n == 0 {
		return
	}
	bp := make([]model.PrimaryKey, n)
	bt := make([]model.Timestamp, n)
	copy(bp, pks)
	copy(bt, tss)
	sort.Sort(&tombSorter{pks: bp, tss: bt})

	var batchBytes int64
	for _, pk := range bp {
		batchBytes += pk.ByteSize() + 8
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.snap.Load()
	merged := &tombstones{
		pks:   make([]model.PrimaryKey, 0, len(old.pks)+n),
		tss:   make([]model.Timestamp, 0, len(old.tss)+n),
		bytes: old.bytes + batchBytes,
	}
	i, j := 0, 0
	for i < len(old.tss) && j < n {
		if old.tss[i] < bt[j] || (old.tss[i] == bt[j] && old.pks[i].Less(bp[j])) {
			merged.pks = append(merged.pks, old.pks[i])
			merged.tss = append(merged.tss, old.tss[i])
			i++
		} else {
			merged.pks = append(merged.pks, bp[j])
			merged.tss = append(merged.tss, bt[j])
			j++
		}
	}
	merged.pks = append(merged.pks, old.pks[i:]...)
	merged.tss = append(merged.tss, old.tss[i:]...)
	merged.pks = append(merged.pks, bp[j:]...)
	merged.tss = append(merged.tss, bt[j:]...)
	r.snap.Store(merged)
}

// Len returns the number of tombstones in the log.
func (r *DeletedRecord) Len() int64 {
	return int64(len(r.snap.Load().tss))
}

// Bytes returns the approximate in-memory size of the log.
func (r *DeletedRecord) Bytes() int64 {
	return r.snap.Load().bytes
}

// Snapshot returns the tombstone log ordered by timestamp. The slices are
// shared immutable snapshot data; callers must not modify them.
func (r *DeletedRecord) Snapshot() ([]model.PrimaryKey, []model.Timestamp) {
	s := r.snap.Load()
	return s.pks, s.tss
}

// DeleteBarrier returns the number of tombstones with timestamp <= ts.
func (r *DeletedRecord) DeleteBarrier(ts model.Timestamp) int64 {
	tss := r.snap.Load().tss
	return int64(sort.Search(len(tss), func(i int) bool {
		return tss[i] > ts
	}))
}

// DeleteBitmap builds the exclusion bitmap over rows [0, insBarrier): a bit
// is set for every row killed by one of the first delBarrier tombstones. A
// tombstone kills a row when the row holds the same primary key, sits below
// the insert barrier, and was written strictly before the tombstone; a row
// written at the tombstone's own timestamp survives.
func (r *DeletedRecord) DeleteBitmap(ins *InsertRecord, delBarrier, insBarrier int64) *roaring.Bitmap {
	bm := roaring.New()
	snap := r.snap.Load()
	if delBarrier > int64(len(snap.tss)) {
		delBarrier = int64(len(snap.tss))
	}
	for i := int64(0); i < delBarrier; i++ {
		pk, ts := snap.pks[i], snap.tss[i]
		for _, off := range ins.SearchPK(pk, ts) {
			if off >= insBarrier {
				continue
			}
			if ins.TimestampAt(off) < ts {
				bm.Add(uint32(off))
			}
		}
	}
	return bm
}
