package service

import (
	"context"
	"sync"
)

// fanOut runs fn for every index in [0, n) with at most limit calls in flight and returns
// once all have finished. Results go into caller-owned, index-addressed slots.
func fanOut(ctx context.Context, n, limit int, fn func(ctx context.Context, i int)) {
	if limit <= 0 || limit > n {
		limit = n
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			fn(ctx, i)
		}()
	}
	wg.Wait()
}
