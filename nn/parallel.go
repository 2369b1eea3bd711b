package nn

import (
	"runtime"
	"sync"
)

// parallelFor runs fn(i) for every i in [0, n) across NumCPU workers. Each
// index is processed exactly once by one goroutine, so fn may write to
// disjoint output regions without locking. Results do not depend on the
// scheduling order.
func parallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	numWorkers := runtime.NumCPU()
	if numWorkers > n {
		numWorkers = n
	}
	if numWorkers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	chunkSize := (n + numWorkers - 1) / numWorkers
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}
