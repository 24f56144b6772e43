package runtime

import (
	"log/slog"
	"runtime"
	"sync"
)

// WorkerPool caps how many connection handlers run at once. Admission
// happens at the pool boundary: Submit never blocks the acceptor, so a
// burst of connections queues instead of stalling Accept.
type WorkerPool struct {
	mu      sync.Mutex
	jobs    chan func()
	wg      sync.WaitGroup
	pending sync.WaitGroup
	size    int
	stopped bool
	log     *slog.Logger
}

// NewWorkerPool sizes the pool to the available parallelism when size
// is not positive.
func NewWorkerPool(size, queueSize int, log *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &WorkerPool{
		jobs: make(chan func(), queueSize),
		size: size,
		log:  log,
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	p.log.Info("worker pool started", "size", p.size)
}

// Submit hands a job to the pool. When the queue is full the handoff
// moves to a helper goroutine so the caller returns immediately; the
// queue can grow past its buffer under sustained overload. A submission
// after Stop is rejected, never panics.
func (p *WorkerPool) Submit(job func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.log.Warn("pool stopped, rejecting submission")
		return
	}

	select {
	case p.jobs <- job:
	default:
		p.log.Warn("pool queue full, deferring submission")
		// Tracked so Stop waits for the handoff to land before it
		// closes the queue.
		p.pending.Add(1)
		go func() {
			defer p.pending.Done()
			p.jobs <- job
		}()
	}
}

// Stop rejects further submissions, waits for deferred handoffs to
// land, then closes the queue and waits for queued and in-flight jobs
// to drain.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.pending.Wait()
	close(p.jobs)
	p.wg.Wait()
	p.log.Info("worker pool drained")
}
