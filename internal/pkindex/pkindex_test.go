package pkindex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growseg/growseg/model"
)

func tsView(tss []model.Timestamp) TimestampView {
	return func(offset int64) model.Timestamp {
		return tss[offset]
	}
}

func TestIndexLookupTimestampBound(t *testing.T) {
	tss := []model.Timestamp{10, 20, 30}
	ix := New(tsView(tss))

	pk := model.NewInt64PrimaryKey(7)
	ix.Insert(pk, 0)
	ix.Insert(pk, 1)
	ix.Insert(pk, 2)

	assert.Equal(t, []int64{0, 1, 2}, ix.Lookup(pk, 30))
	assert.Equal(t, []int64{0, 1}, ix.Lookup(pk, 25))
	assert.Empty(t, ix.Lookup(pk, 5))
}

func TestIndexUnknownKey(t *testing.T) {
	ix := New(tsView(nil))

	assert.False(t, ix.Contains(model.NewInt64PrimaryKey(1)))
	assert.Empty(t, ix.Lookup(model.NewVarCharPrimaryKey("missing"), 100))
}

func TestIndexVarCharKeys(t *testing.T) {
	tss := []model.Timestamp{1, 2}
	ix := New(tsView(tss))

	a := model.NewVarCharPrimaryKey("a")
	b := model.NewVarCharPrimaryKey("b")
	ix.InsertBatch([]model.PrimaryKey{a, b}, []int64{0, 1})

	assert.True(t, ix.Contains(a))
	assert.Equal(t, []int64{1}, ix.Lookup(b, 2))
	// Int64 key with the same bits is a different key.
	assert.False(t, ix.Contains(model.NewInt64PrimaryKey(0)))
}

func TestIndexDuplicatesOrderedByOffset(t *testing.T) {
	tss := make([]model.Timestamp, 100)
	for i := range tss {
		tss[i] = model.Timestamp(i)
	}
	ix := New(tsView(tss))

	pk := model.NewInt64PrimaryKey(42)
	// Inserted out of offset order, as concurrent writers would.
	for _, off := range []int64{50, 10, 90, 30} {
		ix.Insert(pk, off)
	}
	assert.Equal(t, []int64{10, 30, 50, 90}, ix.Lookup(pk, 99))
}

func TestIndexConcurrentInsertLookup(t *testing.T) {
	const rows = 4000
	tss := make([]model.Timestamp, rows)
	for i := range tss {
		tss[i] = model.Timestamp(i + 1)
	}
	ix := New(tsView(tss))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w * 1000; i < (w+1)*1000; i++ {
				ix.Insert(model.NewInt64PrimaryKey(int64(i%500)), int64(i))
			}
		}(w)
	}

	// Readers run while writers insert; results must always be sorted.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			offs := ix.Lookup(model.NewInt64PrimaryKey(int64(i%500)), rows)
			for j := 1; j < len(offs); j++ {
				if offs[j-1] >= offs[j] {
					t.Errorf("lookup not sorted: %v", offs)
					return
				}
			}
		}
	}()

	wg.Wait()
	<-done

	// Every key 0..499 has exactly 8 offsets (4 writers x 2 rounds each).
	offs := ix.Lookup(model.NewInt64PrimaryKey(0), rows)
	require.Len(t, offs, 8)
}
