// Package growseg implements the mutable, query-serving storage engine
// for a single growing segment of a vector database partition.
//
// A growing segment absorbs a totally ordered stream of timestamped
// inserts and deletes while concurrently answering vector searches,
// primary-key probes, and point reads, each scoped to a query timestamp.
// When the segment seals, Flush serializes its contents to binlogs in a
// blob store for a compaction or indexing service to pick up.
//
// # Quick Start
//
//	sch := &schema.CollectionSchema{
//	    Name: "docs",
//	    Fields: []schema.FieldSchema{
//	        {ID: 100, Name: "id", DataType: model.DataTypeInt64, IsPrimaryKey: true},
//	        {ID: 101, Name: "embedding", DataType: model.DataTypeFloatVector, Dim: 128},
//	    },
//	}
//	seg, _ := growseg.Open(1, sch, growseg.WithMetric(101, distance.MetricCosine))
//	defer seg.Close()
//
//	offset, _ := seg.PreInsert(3)
//	seg.Insert(ctx, offset, rowIDs, timestamps, map[model.FieldID]model.FieldData{
//	    100: &model.ScalarData[int64]{Values: []int64{7, 8, 9}},
//	    101: &model.FloatVectorData{Dim: 128, Values: vectors},
//	})
//
//	results, _ := seg.Search(ctx, growseg.SearchRequest{Field: 101, Query: q, K: 10})
//
// # Write Path
//
// Writers reserve offset ranges with PreInsert and fill them with Insert.
// Reservations are atomic, so any number of writers can load the segment
// in parallel; a batch becomes visible only once every batch before it has
// completed, which keeps the readable prefix contiguous and its timestamps
// in ingestion order. Deletes are timestamped tombstones: a deleted row
// stays visible to queries whose timestamp falls before the delete.
//
// # Read Path
//
// Search runs a brute-force scan over chunked column storage by default.
// WithInterimIndex adds a per-field IVF-flat index that trains itself in
// the background once enough rows accumulate and then answers the covered
// prefix via cluster probes, with the uncovered tail still scanned
// exactly. Reads never block writes and never miss an acknowledged row.
//
// # Flush
//
//	res, _ := seg.Flush(ctx)
//	for fieldID, bl := range res.Inserts {
//	    fmt.Println(fieldID, bl.Path, bl.Rows)
//	}
//
// Flush snapshots the visible prefix, encodes one binlog per column plus
// a delete delta and primary-key stats, and uploads them under
// allocator-issued log ids. The segment keeps serving during and after a
// flush.
//
// # Key Features
//
//   - Lock-free offset reservation for concurrent writers
//   - Timestamp-scoped reads with a contiguous visible prefix
//   - Chunked copy-on-write column storage
//   - Interim IVF-flat indexing with exact brute-force tail
//   - Binlog flush to pluggable blob stores (memory, S3, MinIO)
//   - Memory, background-worker, and IO budgets via a resource controller
package growseg
