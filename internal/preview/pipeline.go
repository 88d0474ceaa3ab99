package preview

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/sowing/internal/logging"
)

// Pipeline is the live preview loop for one document. Changes go through
// the scheduler, each surviving snapshot is fetched on its own goroutine
// with a sequence number, and a result is applied only if no result with a
// higher sequence number has been applied already.
type Pipeline struct {
	fetcher   Fetcher
	renderer  *Renderer
	scheduler *Scheduler
	logger    logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastApplied uint64
	closed      bool
}

// Option configures a Pipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	delay  time.Duration
	logger logging.Logger
}

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(o *pipelineOptions) { o.delay = d }
}

// WithLogger sets the logger used for fetch outcomes.
func WithLogger(l logging.Logger) Option {
	return func(o *pipelineOptions) { o.logger = l }
}

// NewPipeline wires fetcher to surface.
func NewPipeline(fetcher Fetcher, surface Surface, opts ...Option) *Pipeline {
	o := pipelineOptions{delay: DefaultDelay, logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		fetcher:  fetcher,
		renderer: NewRenderer(surface),
		logger:   o.logger.WithComponent("preview"),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.scheduler = NewScheduler(o.delay, p.issue)
	return p
}

// Changed is the change listener: it schedules a preview of text.
func (p *Pipeline) Changed(text string) {
	p.scheduler.Schedule(text)
}

// Refresh requests a preview of text immediately, bypassing the quiet
// period. Hosts call it once on load.
func (p *Pipeline) Refresh(text string) {
	p.scheduler.Schedule(text)
	p.scheduler.Flush()
}

// issue starts a fetch for snapshot under the scheduler's sequence number.
// In-flight requests are never cancelled by later changes; their results
// are ignored instead.
func (p *Pipeline) issue(seq uint64, snapshot string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.logger.Debug(p.ctx, "fetching preview", "seq", seq, "bytes", len(snapshot))

	go func() {
		defer p.wg.Done()
		result := p.fetcher.Fetch(p.ctx, snapshot)
		result.Seq = seq
		p.apply(result)
	}()
}

// apply writes result unless it is stale. The check and the surface write
// happen under the same lock so an older result can never overwrite a
// newer one.
func (p *Pipeline) apply(result Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if result.Seq <= p.lastApplied {
		p.logger.Debug(p.ctx, "discarding stale preview", "seq", result.Seq, "last_applied", p.lastApplied)
		return false
	}

	if !result.OK() {
		p.logger.Warn(p.ctx, result.Err, "preview failed", "seq", result.Seq)
	}

	p.lastApplied = result.Seq
	p.renderer.Apply(result)
	return true
}

// LastApplied returns the sequence number of the result on the surface.
func (p *Pipeline) LastApplied() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastApplied
}

// Wait blocks until every issued fetch has finished. It does not stop a
// pending countdown; call Flush on the caller's side first if needed.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Flush fires any pending countdown and waits for the resulting fetch.
func (p *Pipeline) Flush() {
	p.scheduler.Flush()
	p.wg.Wait()
}

// Close stops the scheduler, cancels in-flight requests and waits for
// them. Nothing is applied after Close returns.
func (p *Pipeline) Close() {
	p.scheduler.Stop()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
