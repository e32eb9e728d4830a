// Package alloc abstracts id allocation for flush artifacts. Deployments
// back it with a cluster-wide id service; tests and single-process use get
// the local atomic implementation.
package alloc

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Allocator hands out unique, monotonically increasing ids.
type Allocator interface {
	// AllocOne returns the next id.
	AllocOne(ctx context.Context) (int64, error)
	// Alloc reserves n consecutive ids and returns the first.
	Alloc(ctx context.Context, n int64) (int64, error)
}

// Local is a process-local Allocator backed by an atomic counter.
type Local struct {
	next atomic.Int64
}

// NewLocal returns an allocator whose first id is start.
func NewLocal(start int64) *Local {
	l := &Local{}
	l.next.Store(start)
	return l
}

// AllocOne returns the next id.
func (l *Local) AllocOne(_ context.Context) (int64, error) {
	return l.next.Add(1) - 1, nil
}

// Alloc reserves n consecutive ids and returns the first.
func (l *Local) Alloc(_ context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("alloc: invalid count %d", n)
	}
	return l.next.Add(n) - n, nil
}
