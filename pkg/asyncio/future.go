// Package asyncio provides the bounded background worker pool the bulk
// data engine dispatches payload fetches to, plus the one-shot Future
// handle callers synchronize on. It knows nothing about payloads, flags,
// or archives — a fetch is just a func() ([]byte, error) handed to
// Enqueue, matching the engine's own collaborator contract ("worker pool:
// executes a single-shot task returning a boolean completion future").
package asyncio

import (
	"errors"
	"sync"
	"time"

	"github.com/bulkdata/engine/internal/logger"
)

// ErrAlreadyHarvested is returned by Harvest when called a second time on
// the same Future. A Future is move-only: once harvested its result slot
// is considered consumed.
var ErrAlreadyHarvested = errors.New("asyncio: future already harvested")

// warnInterval is how often WaitForAsync logs while a fetch is still
// pending, matching the one-second cadence of spec.md §4.5.
const warnInterval = time.Second

// Future is the handle a caller holds for a dispatched background fetch.
// It is safe to Probe from any goroutine; Harvest must be called at most
// once.
type Future struct {
	done chan struct{}

	mu        sync.Mutex
	result    []byte
	err       error
	harvested bool
}

// NewFuture creates a Future paired with a completion callback the worker
// invokes exactly once when the task finishes.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete is called by the worker goroutine running the fetch. It must
// be called exactly once per Future.
func (f *Future) complete(result []byte, err error) {
	f.mu.Lock()
	f.result = result
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

// Probe is a non-blocking check for completion.
func (f *Future) Probe() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Harvest blocks until the fetch completes and returns its result exactly
// once; a second call returns ErrAlreadyHarvested. While waiting, it logs
// a warning every warnInterval, mirroring the engine's "wait-with-warning,
// never time out" discipline.
func (f *Future) Harvest() ([]byte, error) {
	f.mu.Lock()
	if f.harvested {
		f.mu.Unlock()
		return nil, ErrAlreadyHarvested
	}
	f.mu.Unlock()

	start := time.Now()
	ticker := time.NewTicker(warnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			f.mu.Lock()
			f.harvested = true
			result, err := f.result, f.err
			f.mu.Unlock()
			return result, err
		case <-ticker.C:
			logger.Warn("async fetch still pending", "elapsed", time.Since(start))
		}
	}
}
