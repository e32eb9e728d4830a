// Package resource implements the Controller bounding a segment's memory,
// worker and IO budgets.
//
// The segment receives a Controller at construction instead of reaching for
// process-wide pools, so callers own the lifetime of every limit:
//
//   - Memory: loads reserve decoded field bytes (blocking, cancellable); the
//     interim index reserves its vector copy non-blocking and simply stops
//     ingesting when memory is tight.
//   - Workers: load and flush fan out per field under the worker semaphore.
//   - IO: remote blob reads and writes pass the byte-rate limiter.
//
// # Memory Management
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB
//	})
//
//	if err := rc.AcquireMemory(ctx, n); err != nil {
//	    return err // limit can never fit, or ctx done
//	}
//	defer rc.ReleaseMemory(n)
//
// # Background Workers
//
//	rc := resource.NewController(resource.Config{MaxBackgroundWorkers: 4})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # IO Rate Limiting
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//	if err := rc.AcquireIO(ctx, len(blob)); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully and become no-ops, so
// resource limiting stays optional without nil checks at call sites.
package resource
