package pipeline

import "sync"

// Lanes serializes work per conversation while letting distinct conversations
// proceed concurrently. Each lane is a chain of goroutines, every task
// waiting for its predecessor, so order within a lane is strict FIFO.
type Lanes struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	wg    sync.WaitGroup
}

// NewLanes creates an empty lane set.
func NewLanes() *Lanes {
	return &Lanes{tails: make(map[string]chan struct{})}
}

// Enqueue schedules fn on the lane, after everything already queued there.
func (l *Lanes) Enqueue(key string, fn func()) {
	done := make(chan struct{})

	l.mu.Lock()
	prev := l.tails[key]
	l.tails[key] = done
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if prev != nil {
			<-prev
		}
		defer close(done)
		defer func() {
			l.mu.Lock()
			// Only the current tail may retire the lane entry.
			if l.tails[key] == done {
				delete(l.tails, key)
			}
			l.mu.Unlock()
		}()
		fn()
	}()
}

// Wait blocks until all queued work has finished.
func (l *Lanes) Wait() {
	l.wg.Wait()
}
