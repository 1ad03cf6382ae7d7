package probe

import (
	"context"
	"fmt"
	"sync"
)

// DefaultWorkers keeps fan-out below the sshd MaxSessions default.
const DefaultWorkers = 10

// Slot is the pre-allocated result of one queued job.
type Slot[R any] struct {
	Value R
	Err   error
}

// RunQueue places every item on a queue drained by at most workers
// goroutines. Each job writes only its own slot, so the slots line up with
// items and need no joining afterwards. A panicking job leaves an error in
// its slot; the other jobs still run.
func RunQueue[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) []Slot[R] {
	slots := make([]Slot[R], len(items))
	if len(items) == 0 {
		return slots
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	workers = min(workers, len(items))

	queue := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				slots[i] = runJob(ctx, items[i], fn)
			}
		}()
	}

	for i := range items {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return slots
}

func runJob[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (slot Slot[R]) {
	defer func() {
		if r := recover(); r != nil {
			slot.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		slot.Err = err
		return slot
	}
	slot.Value, slot.Err = fn(ctx, item)
	return slot
}
