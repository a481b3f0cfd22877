package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	"github.com/gumballmed/scanpipe/internal/domain/scans"
	"github.com/gumballmed/scanpipe/internal/middleware"
)

// Worker claims jobs from the broker and runs the registered stage handlers.
// On success it enqueues the next stage of the chain, feeding the result
// forward as that stage's input.
type Worker struct {
	broker      jobs.Broker
	registry    *jobs.Registry
	scans       scans.Repository
	claimWait   time.Duration
	concurrency int
}

func NewWorker(broker jobs.Broker, registry *jobs.Registry, repo scans.Repository, claimWait time.Duration, concurrency int) *Worker {
	if claimWait <= 0 {
		claimWait = 5 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{broker: broker, registry: registry, scans: repo, claimWait: claimWait, concurrency: concurrency}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	kinds := w.registry.Kinds()
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				claimed, err := w.broker.Claim(ctx, kinds, w.claimWait)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("claim error: %v", err)
					time.Sleep(time.Second)
					continue
				}
				if claimed == nil {
					continue
				}
				w.Execute(ctx, claimed)
			}
		}()
	}
	wg.Wait()
}

// Execute runs one claimed job through its handler, records the outcome on
// the broker, and chains the next stage.
func (w *Worker) Execute(ctx context.Context, c *jobs.Claimed) {
	handler, err := w.registry.Handler(c.Handle.Kind)
	if err != nil {
		w.fail(ctx, c, err)
		return
	}

	ref, err := w.runSafely(ctx, handler, c.Payload)
	if err != nil {
		log.Printf("job %s (%s) failed: %v", c.Handle.ID, c.Handle.Kind, err)
		w.fail(ctx, c, err)
		return
	}

	if err := w.broker.Complete(ctx, c.Handle.ID, ref); err != nil {
		// Lost the race against a cancel. Do not chain.
		log.Printf("job %s finished but could not be completed: %v", c.Handle.ID, err)
		return
	}

	if len(c.Payload.Next) > 0 {
		next := c.Payload.Next[0]
		payload := c.Payload
		payload.InputRef = next.InputRef
		if payload.InputRef == "" {
			payload.InputRef = ref
		}
		payload.Next = c.Payload.Next[1:]
		handle, err := w.broker.Enqueue(ctx, next.Kind, payload)
		if err != nil {
			log.Printf("could not enqueue %s after job %s: %v", next.Kind, c.Handle.ID, err)
			w.markScanFailed(ctx, c.Payload.ScanID)
			return
		}
		if err := w.broker.LinkNext(ctx, c.Handle.ID, handle); err != nil {
			log.Printf("could not link job %s to %s: %v", c.Handle.ID, handle.ID, err)
		}
	}
}

// runSafely converts a handler panic into a job failure instead of taking
// the whole worker down.
func (w *Worker) runSafely(ctx context.Context, h jobs.Handler, p jobs.Payload) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return h.Run(ctx, p)
}

func (w *Worker) fail(ctx context.Context, c *jobs.Claimed, cause error) {
	if err := w.broker.Fail(ctx, c.Handle.ID, cause.Error()); err != nil {
		log.Printf("could not record failure of job %s: %v", c.Handle.ID, err)
	}
	middleware.IncrementJobsFailed()
	w.markScanFailed(ctx, c.Payload.ScanID)
}

// markScanFailed absorbs the scan into FAILED unless it already reached a
// terminal status. An advise failure after ANALYZED leaves the scan alone.
func (w *Worker) markScanFailed(ctx context.Context, scanID string) {
	if scanID == "" {
		return
	}
	sc, err := w.scans.Get(ctx, scans.ScanID(scanID))
	if err != nil {
		if !errors.Is(err, scans.ErrNotFound) {
			log.Printf("could not load scan %s: %v", scanID, err)
		}
		return
	}
	if err := sc.Status.ValidateTransition(scans.StatusFailed); err != nil {
		return
	}
	if err := w.scans.UpdateStatus(ctx, scans.ScanID(scanID), scans.StatusFailed); err != nil {
		log.Printf("could not mark scan %s failed: %v", scanID, err)
	}
}
