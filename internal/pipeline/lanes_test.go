package pipeline_test

import (
	"sync"
	"testing"

	"zalobridge/internal/pipeline"
)

func TestLanes_FIFOWithinLane(t *testing.T) {
	t.Parallel()

	l := pipeline.NewLanes()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		n := i
		l.Enqueue("lane-a", func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		})
	}
	l.Wait()

	if len(order) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(order))
	}
	for i, n := range order {
		if n != i {
			t.Fatalf("order[%d] = %d, lane ordering violated", i, n)
		}
	}
}

func TestLanes_IndependentLanesBothRun(t *testing.T) {
	t.Parallel()

	l := pipeline.NewLanes()

	release := make(chan struct{})
	var mu sync.Mutex
	var done []string

	l.Enqueue("slow", func() {
		<-release
		mu.Lock()
		done = append(done, "slow")
		mu.Unlock()
	})

	fastDone := make(chan struct{})
	l.Enqueue("fast", func() {
		mu.Lock()
		done = append(done, "fast")
		mu.Unlock()
		close(fastDone)
	})

	// The fast lane must complete while the slow lane is still blocked.
	<-fastDone
	close(release)
	l.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(done) != 2 || done[0] != "fast" {
		t.Errorf("done = %v, want fast lane first", done)
	}
}
