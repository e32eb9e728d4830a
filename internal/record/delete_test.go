package record

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growseg/growseg/model"
)

func pkInt(v int64) model.PrimaryKey { return model.NewInt64PrimaryKey(v) }

func TestDeletedRecordPushMergesSorted(t *testing.T) {
	r := NewDeletedRecord()

	r.Push(
		[]model.PrimaryKey{pkInt(1), pkInt(2), pkInt(3)},
		[]model.Timestamp{30, 10, 20},
	)
	r.Push(
		[]model.PrimaryKey{pkInt(4), pkInt(5)},
		[]model.Timestamp{25, 15},
	)

	pks, tss := r.Snapshot()
	assert.Equal(t, []model.Timestamp{10, 15, 20, 25, 30}, tss)
	assert.Equal(t, []model.PrimaryKey{pkInt(2), pkInt(5), pkInt(3), pkInt(4), pkInt(1)}, pks)
	assert.Equal(t, int64(5), r.Len())
	assert.Equal(t, int64(5*16), r.Bytes())
}

func TestDeletedRecordTieBreakByPK(t *testing.T) {
	r := NewDeletedRecord()

	r.Push([]model.PrimaryKey{pkInt(9), pkInt(3)}, []model.Timestamp{50, 50})
	r.Push([]model.PrimaryKey{pkInt(6)}, []model.Timestamp{50})

	pks, tss := r.Snapshot()
	assert.Equal(t, []model.Timestamp{50, 50, 50}, tss)
	assert.Equal(t, []model.PrimaryKey{pkInt(3), pkInt(6), pkInt(9)}, pks)
}

func TestDeletedRecordBarrier(t *testing.T) {
	r := NewDeletedRecord()
	assert.Equal(t, int64(0), r.DeleteBarrier(1<<40))

	r.Push(
		[]model.PrimaryKey{pkInt(1), pkInt(2), pkInt(3)},
		[]model.Timestamp{10, 20, 30},
	)

	assert.Equal(t, int64(0), r.DeleteBarrier(9))
	assert.Equal(t, int64(1), r.DeleteBarrier(10))
	assert.Equal(t, int64(2), r.DeleteBarrier(25))
	assert.Equal(t, int64(3), r.DeleteBarrier(30))
	assert.Equal(t, int64(3), r.DeleteBarrier(1<<40))
}

func TestDeletedRecordEmptyPush(t *testing.T) {
	r := NewDeletedRecord()
	r.Push(nil, nil)
	assert.Equal(t, int64(0), r.Len())
	assert.Equal(t, int64(0), r.Bytes())
}

func TestDeletedRecordBitmap(t *testing.T) {
	ins, err := NewInsertRecord(testSchema(t), 4)
	require.NoError(t, err)

	// offset 0: pk 1 @ ts 10
	// offset 1: pk 2 @ ts 10
	// offset 2: pk 1 @ ts 20 (rewrite of pk 1)
	// offset 3: pk 3 @ ts 30
	insertOne := func(pk int64, ts model.Timestamp) {
		off := ins.Reserve(1)
		require.NoError(t, ins.Insert(off, []int64{off}, []model.Timestamp{ts}, map[model.FieldID]model.FieldData{
			100: &model.ScalarData[int64]{Values: []int64{pk}},
			101: &model.ScalarData[string]{Values: []string{"x"}},
			102: &model.FloatVectorData{Dim: 4, Values: make([]float32, 4)},
		}))
	}
	insertOne(1, 10)
	insertOne(2, 10)
	insertOne(1, 20)
	insertOne(3, 30)

	del := NewDeletedRecord()
	del.Push(
		[]model.PrimaryKey{pkInt(1), pkInt(2)},
		[]model.Timestamp{20, 5},
	)

	// Tombstone (pk 1, ts 20) kills offset 0 (written at 10) but not
	// offset 2, written at the tombstone's own timestamp. Tombstone
	// (pk 2, ts 5) predates every pk 2 row and kills nothing.
	bm := del.DeleteBitmap(ins, del.DeleteBarrier(1<<40), 4)
	assert.Equal(t, uint64(1), bm.GetCardinality())
	assert.True(t, bm.Contains(0))

	// Insert barrier clips candidate offsets.
	bm = del.DeleteBitmap(ins, 2, 0)
	assert.True(t, bm.IsEmpty())

	// Delete barrier limits which tombstones apply.
	bm = del.DeleteBitmap(ins, del.DeleteBarrier(5), 4)
	assert.True(t, bm.IsEmpty())
}

func TestDeletedRecordConcurrentPushes(t *testing.T) {
	r := NewDeletedRecord()

	const (
		pushers = 8
		batches = 20
	)
	var wg sync.WaitGroup
	for p := 0; p < pushers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				base := model.Timestamp(p*1000 + b*10)
				r.Push(
					[]model.PrimaryKey{pkInt(int64(p)), pkInt(int64(b))},
					[]model.Timestamp{base + 5, base},
				)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, int64(pushers*batches*2), r.Len())
	_, tss := r.Snapshot()
	for i := 1; i < len(tss); i++ {
		require.LessOrEqual(t, tss[i-1], tss[i])
	}
}
