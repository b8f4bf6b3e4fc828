package crawler

import (
	"context"
	"net/url"
	"sync"
)

// fetchHandler processes one scheduled detail page.
type fetchHandler func(ctx context.Context, target *url.URL)

// fetchJob pairs a target with the join group of the listing page that
// scheduled it.
type fetchJob struct {
	target *url.URL
	joined *sync.WaitGroup
}

// workerPool fans detail fetches out to a fixed set of workers over a
// bounded queue. Only the pagination loop dispatches, so a full queue
// throttles pagination rather than deadlocking it; workers never dispatch.
type workerPool struct {
	handler fetchHandler
	jobs    chan fetchJob
	workers sync.WaitGroup
}

func newWorkerPool(ctx context.Context, workers int, handler fetchHandler) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &workerPool{
		handler: handler,
		jobs:    make(chan fetchJob, workers*4),
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.work(ctx)
	}
	return p
}

// work drains the queue until it closes. Cancellation is observed inside
// the handler, so queued jobs still release their join groups.
func (p *workerPool) work(ctx context.Context) {
	defer p.workers.Done()
	for job := range p.jobs {
		p.handler(ctx, job.target)
		job.joined.Done()
	}
}

// dispatch queues one target, registering it with the caller's join group.
// Returns false when ctx is cancelled before the job could be queued.
func (p *workerPool) dispatch(ctx context.Context, target *url.URL, joined *sync.WaitGroup) bool {
	joined.Add(1)
	select {
	case p.jobs <- fetchJob{target: target, joined: joined}:
		return true
	case <-ctx.Done():
		joined.Done()
		return false
	}
}

// close stops intake and waits for in-flight work to finish.
func (p *workerPool) close() {
	close(p.jobs)
	p.workers.Wait()
}
