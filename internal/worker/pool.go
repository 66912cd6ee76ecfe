package worker

import (
	"context"
	"sync"

	"offsync/internal/models"

	"github.com/rs/zerolog"
)

// Pool is a fixed-size set of goroutines executing fire-and-forget work items.
// Work queued while the backlog is full is dropped, not blocked on.
type Pool struct {
	size   int
	queue  chan func(ctx context.Context)
	logger *zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(size, backlog int, logger *zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if backlog < 1 {
		backlog = models.WorkerQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Pool{
		size:   size,
		queue:  make(chan func(ctx context.Context), backlog),
		logger: logger,
	}
}

// Start launches the workers; they stop when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.loop(ctx)
	}
	p.logger.Debug().Int("workers", p.size).Msg("worker pool started")
}

// Stop cancels the workers and waits for in-flight items to return.
// Items still in the backlog are discarded.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug().Msg("worker pool stopped")
}

// QueueUserWorkItem schedules fn and reports whether it was accepted.
func (p *Pool) QueueUserWorkItem(fn func(ctx context.Context)) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return false
	}

	select {
	case p.queue <- fn:
		return true
	default:
		p.logger.Warn().Msg("worker pool backlog full, work item dropped")
		return false
	}
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.queue:
			fn(ctx)
		}
	}
}
