package em

import "sync"

// parallelFor splits [0, n) into one contiguous range per worker and calls fn
// concurrently on each. fn receives the worker id so callers can keep
// per-worker accumulators; ranges are disjoint, so writes indexed by voxel
// need no locking.
func parallelFor(n, workers int, fn func(worker, lo, hi int)) {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if n > 0 {
			fn(0, 0, n)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(worker, lo, hi int) {
			defer wg.Done()
			fn(worker, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()
}

// workerCount returns how many per-worker accumulators parallelFor may touch.
func workerCount(n, workers int) int {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		return 1
	}
	return workers
}
