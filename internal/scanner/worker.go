package scanner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerConfig holds options for the worker pool.
type WorkerConfig struct {
	Threads   int
	Throttler *Throttler    // nil = no delay
	Limiter   *rate.Limiter // nil = unpaced
	Pauser    *Pauser       // nil = no pause support
	// Stop, once closed, makes the pool drop queued items without running
	// them. Items already running complete.
	Stop <-chan struct{}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// RunWorkerPool fans items out across cfg.Threads workers, calls work for
// each one, and returns a channel of the results. The channel is closed
// once every worker has exited. Items dropped by Stop or by ctx produce no
// result.
func RunWorkerPool[T, R any](
	ctx context.Context,
	items []T,
	cfg WorkerConfig,
	work func(context.Context, T) R,
) <-chan R {
	threads := max(cfg.Threads, 1)
	itemsCh := make(chan T, threads*2)
	resultsCh := make(chan R, threads*2)

	// gateCtx ends when ctx does or Stop closes, so workers parked on the
	// pause gate, the limiter or the throttle delay wake up for a stop.
	gateCtx, cancelGate := context.WithCancel(ctx)
	go func() {
		select {
		case <-cfg.Stop:
			cancelGate()
		case <-gateCtx.Done():
		}
	}()

	var wg sync.WaitGroup

	// Producer: feed items into channel.
	go func() {
		defer close(itemsCh)
		for _, item := range items {
			select {
			case itemsCh <- item:
			case <-cfg.Stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Workers: consume items, produce results.
	for range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemsCh {
				if stopped(cfg.Stop) || ctx.Err() != nil {
					continue // drain
				}
				if err := cfg.Pauser.Wait(gateCtx); err != nil {
					continue
				}
				if cfg.Limiter != nil {
					if err := cfg.Limiter.Wait(gateCtx); err != nil {
						continue
					}
				}
				if delay := cfg.Throttler.Delay(); delay > 0 {
					select {
					case <-time.After(delay):
					case <-gateCtx.Done():
						continue
					}
				}
				if stopped(cfg.Stop) {
					continue
				}
				resultsCh <- work(ctx, item)
			}
		}()
	}

	// Closer: when all workers finish, close the results channel.
	go func() {
		wg.Wait()
		cancelGate()
		close(resultsCh)
	}()

	return resultsCh
}
