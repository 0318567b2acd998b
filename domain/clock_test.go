package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextTimestampStrictlyIncreases(t *testing.T) {
	prev := NextTimestamp()
	for i := 0; i < 1000; i++ {
		next := NextTimestamp()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestNextTimestampUniqueUnderConcurrency(t *testing.T) {
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, NextTimestamp())
			}
			mu.Lock()
			for _, ts := range local {
				seen[ts] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker, "timestamps must never collide")
}
