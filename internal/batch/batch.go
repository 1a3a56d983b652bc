// Package batch splits oversized collections into bounded slices so that
// SQL statements never exceed a driver's bind-parameter limit. The helpers
// wrap the actual statement execution: callers pass the closure that runs
// one statement per batch.
package batch

// DefaultSize is the batch size used for id lists bound into IN clauses and
// multi-row inserts. SQLite caps bind variables at 999 by default; 500
// leaves room for the fixed parameters of each statement. PostgreSQL's
// limit (65535) is never the constraint.
const DefaultSize = 500

// Split partitions items into slices of at most size elements. The returned
// slices are subslices of items, not copies. A nil or empty input yields no
// batches. Sizes below 1 fall back to DefaultSize.
func Split[T any](items []T, size int) [][]T {
	if size < 1 {
		size = DefaultSize
	}
	if len(items) == 0 {
		return nil
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// Each invokes fn once per batch of at most size items, stopping at the
// first error. Empty input means zero invocations and a nil error.
func Each[T any](items []T, size int, fn func([]T) error) error {
	for _, b := range Split(items, size) {
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// Union invokes fn once per batch and merges the returned sets. Empty input
// means zero invocations and an empty, non-nil set.
func Union[T any, K comparable](items []T, size int, fn func([]T) (map[K]struct{}, error)) (map[K]struct{}, error) {
	merged := make(map[K]struct{}, len(items))
	for _, b := range Split(items, size) {
		part, err := fn(b)
		if err != nil {
			return nil, err
		}
		for k := range part {
			merged[k] = struct{}{}
		}
	}
	return merged, nil
}
