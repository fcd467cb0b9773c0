// Package streaming processes arbitrarily large inputs as a sequence of
// chunks. Chunks align to block boundaries (a block is never split), carry a
// sliding-window context snippet from the previous chunk, and are translated
// with bounded concurrency while results are delivered strictly in chunk
// order.
package streaming

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/valpere/pseudotran/internal"
)

// BoundaryContext is the chunk boundary metadata key holding the overlap
// snippet from the preceding chunk.
const BoundaryContext = "context"

// Adaptive chunk-size controller factors. The next target grows when a
// chunk finishes under the latency budget and shrinks when it overruns,
// always clamped to [MinChunkSize, MaxChunkSize].
const (
	growFactor    = 1.25
	shrinkFactor  = 0.6
	latencyBudget = 20 * time.Second
)

// TranslateFunc turns one chunk into its TranslationResult. Implementations
// must not panic; failures are reported inside the result.
type TranslateFunc func(ctx context.Context, chunk internal.StreamingChunk) internal.TranslationResult

// ShouldStream reports whether the input is large enough for the streaming
// path.
func ShouldStream(input string, opts internal.Options) bool {
	opts = opts.WithDefaults()
	return opts.EnableStreaming && len(input) >= opts.StreamThreshold
}

// Pipeline holds the chunking and concurrency configuration for one
// invocation. Each Run produces a fresh, finite, non-restartable sequence.
type Pipeline struct {
	opts internal.Options
	log  *zap.SugaredLogger
}

// New creates a Pipeline. Options must already be validated; a nil logger is
// replaced with a no-op logger.
func New(opts internal.Options, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{opts: opts.WithDefaults(), log: log}
}

// Chunks performs fixed-size chunking of the given blocks: consecutive
// blocks accumulate until the target size is reached, and a single oversized
// block becomes its own chunk rather than being split. This is the baseline
// behavior that adaptive mode must reproduce when disabled.
func (p *Pipeline) Chunks(blocks []internal.Block) []internal.StreamingChunk {
	var out []internal.StreamingChunk
	cursor := 0
	prevTail := ""
	for cursor < len(blocks) {
		chunk, next := buildChunk(blocks, cursor, p.opts.ChunkSize, p.opts.MaxChunkSize)
		chunk.Index = len(out)
		if prevTail != "" {
			chunk.Boundary = map[string]string{BoundaryContext: prevTail}
		}
		prevTail = overlapTail(chunk.Content, p.opts.OverlapSize)
		cursor = next
		out = append(out, chunk)
	}
	if n := len(out); n > 0 {
		out[n-1].IsFinal = true
	}
	return out
}

// Run translates the blocks chunk by chunk with at most
// MaxConcurrentChunks in flight and returns a channel delivering results in
// chunk-index order. The channel is closed after the final chunk (or after
// a cancellation result). One chunk's failure does not stop the sequence.
func (p *Pipeline) Run(ctx context.Context, blocks []internal.Block, translate TranslateFunc) <-chan internal.TranslationResult {
	out := make(chan internal.TranslationResult)

	go func() {
		defer close(out)

		sem := semaphore.NewWeighted(int64(p.opts.MaxConcurrentChunks))
		buf := newByteBudget(p.opts.BufferCeiling)
		ctrl := newController(p.opts)

		// Delivery goroutine: forwards buffered results strictly in index
		// order and returns bytes to the budget as each result leaves. The
		// slot handoff is buffered so the producer can keep submitting work
		// while the head of the sequence is still translating; without the
		// buffer the loop below would stall on every slot and serialize the
		// whole pipeline.
		deliverDone := make(chan struct{})
		nextSlot := make(chan chan internal.TranslationResult, p.opts.MaxConcurrentChunks)
		go func() {
			defer close(deliverDone)
			for ch := range nextSlot {
				res := <-ch
				buf.release(len(res.Code))
				select {
				case out <- res:
				case <-ctx.Done():
					// Consumer gone; drain remaining slots silently.
					for range nextSlot {
					}
					return
				}
			}
		}()

		cursor := 0
		index := 0
		for cursor < len(blocks) {
			if ctx.Err() != nil {
				break
			}

			target := ctrl.target()
			chunk, next := buildChunk(blocks, cursor, target, p.opts.MaxChunkSize)
			chunk.Index = index
			if tail := ctrl.lastTail(); tail != "" {
				chunk.Boundary = map[string]string{BoundaryContext: tail}
			}
			ctrl.setTail(overlapTail(chunk.Content, p.opts.OverlapSize))
			cursor = next
			chunk.IsFinal = cursor >= len(blocks)
			index++

			// Backpressure: wait for an in-flight slot and for buffer room.
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			if err := buf.acquire(ctx, len(chunk.Content)); err != nil {
				sem.Release(1)
				break
			}

			ch := make(chan internal.TranslationResult, 1)
			nextSlot <- ch

			go func(c internal.StreamingChunk) {
				defer sem.Release(1)
				start := time.Now()
				res := translate(ctx, c)
				ctrl.observe(len(c.Content), time.Since(start))
				buf.adjust(len(c.Content), len(res.Code))
				ch <- res
			}(chunk)
		}

		close(nextSlot)
		<-deliverDone

		if ctx.Err() != nil {
			cancelled := internal.TranslationResult{
				Success:   false,
				Cancelled: true,
				Errors:    []string{"translation cancelled"},
			}
			select {
			case out <- cancelled:
			default:
			}
		}
	}()

	return out
}

// buildChunk accumulates whole blocks from blocks[start:] until the target
// size is reached (never exceeding max once at least one block is taken) and
// returns the chunk plus the next cursor position.
func buildChunk(blocks []internal.Block, start, target, max int) (internal.StreamingChunk, int) {
	var sb strings.Builder
	i := start
	for i < len(blocks) {
		blen := len(blocks[i].Content) + 1
		if sb.Len() > 0 {
			if sb.Len()+blen > max || sb.Len() >= target {
				break
			}
			sb.WriteByte('\n')
		}
		sb.WriteString(blocks[i].Content)
		i++
		if sb.Len() >= target {
			break
		}
	}
	return internal.StreamingChunk{Content: sb.String()}, i
}

// overlapTail returns the last n bytes of content, aligned to a word
// boundary so the snippet never starts mid-token.
func overlapTail(content string, n int) string {
	if n <= 0 || content == "" {
		return ""
	}
	if len(content) <= n {
		return content
	}
	tail := content[len(content)-n:]
	if i := strings.IndexAny(tail, " \t\n"); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return tail
}

// controller owns the chunk-size schedule and the overlap tail. With
// adaptive mode off it always returns the configured chunk size, matching
// the fixed baseline exactly.
type controller struct {
	mu       sync.Mutex
	adaptive bool
	cur      int
	min      int
	max      int
	tail     string
}

func newController(opts internal.Options) *controller {
	return &controller{
		adaptive: opts.AdaptiveChunking,
		cur:      opts.ChunkSize,
		min:      opts.MinChunkSize,
		max:      opts.MaxChunkSize,
	}
}

func (c *controller) target() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// observe feeds one completed chunk's size and latency into the schedule.
// No-op when adaptive mode is off.
func (c *controller) observe(chunkBytes int, latency time.Duration) {
	if !c.adaptive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cur
	if latency < latencyBudget {
		next = int(float64(c.cur) * growFactor)
	} else if latency > latencyBudget*2 {
		next = int(float64(c.cur) * shrinkFactor)
	}
	if next < c.min {
		next = c.min
	}
	if next > c.max {
		next = c.max
	}
	c.cur = next
}

func (c *controller) lastTail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail
}

func (c *controller) setTail(t string) {
	c.mu.Lock()
	c.tail = t
	c.mu.Unlock()
}

// byteBudget bounds the bytes buffered between submission and delivery.
// acquire blocks the producer once the ceiling is reached; release frees
// budget as results are handed to the consumer (FIFO, since delivery is in
// index order).
type byteBudget struct {
	mu      sync.Mutex
	cond    *sync.Cond
	used    int
	ceiling int
}

func newByteBudget(ceiling int) *byteBudget {
	b := &byteBudget{ceiling: ceiling}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *byteBudget) acquire(ctx context.Context, n int) error {
	if n > b.ceiling {
		n = b.ceiling
	}

	// Wake the waiter when the context dies so the producer can abort.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.used+n > b.ceiling && b.used > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.cond.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.used += n
	return nil
}

// adjust swaps the reserved input size for the produced output size once a
// chunk's result is buffered.
func (b *byteBudget) adjust(reserved, actual int) {
	if reserved > b.ceiling {
		reserved = b.ceiling
	}
	b.mu.Lock()
	b.used += actual - reserved
	if b.used < 0 {
		b.used = 0
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *byteBudget) release(n int) {
	b.mu.Lock()
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}
