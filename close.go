package growseg

// Close releases the interim index memory and any registered disk index
// handles. Operations issued after Close return ErrSegmentClosed. Close
// is idempotent and safe on a nil segment.
func (s *Segment) Close() error {
	if s == nil {
		return nil
	}
	if s.closed.Swap(true) {
		return nil
	}
	s.interim.Release()
	return s.closeIndexes()
}
