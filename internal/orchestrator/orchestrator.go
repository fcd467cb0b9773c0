// Package orchestrator composes the translation pipeline: parse, strategy
// selection, per-block or whole-document model calls, assembly with import
// merging, validation, and the bounded fix-refine loop. It owns the
// invocation state machine and emits lifecycle events to subscribed sinks.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valpere/pseudotran/internal"
	"github.com/valpere/pseudotran/internal/model"
	"github.com/valpere/pseudotran/internal/offload"
	"github.com/valpere/pseudotran/internal/parser"
	"github.com/valpere/pseudotran/internal/refiner"
	"github.com/valpere/pseudotran/internal/resolver"
	"github.com/valpere/pseudotran/internal/streaming"
	"github.com/valpere/pseudotran/internal/validator"
)

// contextTailBytes is how much of the already-generated output is passed to
// the model as surrounding-code context for the next block.
const contextTailBytes = 1024

// promptCharsPerToken approximates model context windows in characters when
// deciding between the whole-document and structured strategies.
const promptCharsPerToken = 4

// Strategy names the two translation modes.
type Strategy string

const (
	// StrategyWhole sends the entire document in one model call.
	StrategyWhole Strategy = "model-first"
	// StrategyStructured translates block by block; code blocks pass
	// through verbatim.
	StrategyStructured Strategy = "structured"
)

// Orchestrator runs translations against a shared model registry. It is safe
// for concurrent invocations; each invocation is single-threaded and
// cooperative, with model calls as its only blocking points.
type Orchestrator struct {
	registry *model.Registry
	parser   *parser.Parser
	pool     *offload.Executor
	log      *zap.SugaredLogger

	mu      sync.Mutex
	sinks   []internal.EventSink
	cancels map[string]context.CancelFunc
}

// New creates an Orchestrator over the given registry. The offload executor
// may be nil (everything runs in-process). A nil logger is replaced with a
// no-op logger.
func New(registry *model.Registry, pool *offload.Executor, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		registry: registry,
		parser:   parser.New(log),
		pool:     pool,
		log:      log,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Subscribe registers an event sink. Sinks receive events inline from the
// invocation goroutine and must return quickly.
func (o *Orchestrator) Subscribe(sink internal.EventSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, sink)
}

// Cancel aborts every in-flight invocation. In-flight model calls are
// abandoned best-effort through context cancellation.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.cancels {
		cancel()
	}
}

func (o *Orchestrator) publish(e internal.Event) {
	o.mu.Lock()
	sinks := make([]internal.EventSink, len(o.sinks))
	copy(sinks, o.sinks)
	o.mu.Unlock()
	for _, s := range sinks {
		s.Publish(e)
	}
}

func (o *Orchestrator) track(id string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.cancels, id)
	o.mu.Unlock()
}

// Translate converts the input into target-language code. Only configuration
// errors are returned as a Go error, synchronously, before any work begins;
// every other failure is reported inside the TranslationResult.
func (o *Orchestrator) Translate(ctx context.Context, input string, opts internal.Options) (internal.TranslationResult, error) {
	if err := opts.Validate(); err != nil {
		return internal.TranslationResult{}, err
	}
	opts = opts.WithDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(id, cancel)
	defer o.untrack(id)

	start := time.Now()
	o.publish(internal.Event{Kind: internal.EventStarted, RequestID: id})

	res := o.run(ctx, id, input, "", opts)
	res.Latency = time.Since(start)

	switch {
	case res.Cancelled:
		o.publish(internal.Event{Kind: internal.EventStatus, RequestID: id, Phase: internal.PhaseCancelled, Message: "translation cancelled"})
	case res.Success:
		o.publish(internal.Event{Kind: internal.EventCompleted, RequestID: id, Phase: internal.PhaseCompleted, Progress: 100, Result: &res})
	default:
		o.publish(internal.Event{Kind: internal.EventFailed, RequestID: id, Phase: internal.PhaseFailed, Err: strings.Join(res.Errors, "; "), Result: &res})
	}
	return res, nil
}

// run drives the state machine for one invocation. boundary is code from a
// preceding streaming chunk (empty outside streaming); it seeds the
// surrounding-code context of the first model call so naming and style carry
// across chunk boundaries.
func (o *Orchestrator) run(ctx context.Context, id, input, boundary string, opts internal.Options) internal.TranslationResult {
	// PARSE
	o.status(id, internal.PhaseParsing, 5, "classifying input")
	parsed := o.parse(input, opts)
	if cancelled(ctx) {
		return cancelledResult()
	}
	if !parsed.Success {
		return failedResult(parseErrors(parsed))
	}
	if len(parsed.Blocks) == 0 {
		return internal.TranslationResult{Success: true, Warnings: parsed.Warnings}
	}

	handle, err := o.registry.Load(opts.ModelName, "", nil)
	if err != nil {
		return failedResult([]string{err.Error()})
	}

	// STRATEGY_SELECT
	strategy := selectStrategy(input, handle.Descriptor().Capabilities, opts)
	o.status(id, internal.PhaseTranslating, 10, fmt.Sprintf("strategy: %s", strategy))

	// TRANSLATE_WHOLE | TRANSLATE_BLOCKS
	var outputs []blockOutput
	var warnings []string
	warnings = append(warnings, parsed.Warnings...)

	if strategy == StrategyWhole {
		out, err := o.translateWhole(ctx, handle, input, opts)
		if cancelled(ctx) {
			return cancelledResult()
		}
		if err != nil {
			return failedResult([]string{err.Error()})
		}
		outputs = []blockOutput{{code: out}}
	} else {
		var failed []string
		outputs, warnings, failed = o.translateBlocks(ctx, id, handle, parsed.Blocks, warnings, boundary, opts)
		if cancelled(ctx) {
			return cancelledResult()
		}
		if len(failed) > 0 && allFailed(outputs) {
			return failedResult(failed)
		}
	}

	// ASSEMBLE
	o.status(id, internal.PhaseAssembling, 75, "assembling output")
	code := assemble(outputs)
	if cancelled(ctx) {
		return cancelledResult()
	}

	// VALIDATE + FIX_REFINE
	o.status(id, internal.PhaseValidating, 85, "validating output")
	level, _ := internal.ParseValidationLevel(opts.ValidationLevel)
	v := validator.New(level)
	code, vres := o.validateAndRefine(ctx, handle, v, code, opts)
	if cancelled(ctx) {
		return cancelledResult()
	}

	res := internal.TranslationResult{
		Success:     vres.IsValid,
		Code:        code,
		Warnings:    warnings,
		Suggestions: vres.Suggestions,
		Metadata: map[string]string{
			"strategy": string(strategy),
			"model":    handle.Descriptor().Name,
		},
	}
	for _, is := range vres.Errors {
		res.Errors = append(res.Errors, issueString(is))
	}
	for _, is := range vres.Warnings {
		res.Warnings = append(res.Warnings, issueString(is))
	}
	return res
}

// parse classifies the input, optionally on the offload pool. The result is
// identical on either path.
func (o *Orchestrator) parse(input string, opts internal.Options) internal.ParseResult {
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	return offload.Run(o.pool, len(input), timeout, func() internal.ParseResult {
		return o.parser.Parse(input)
	})
}

// selectStrategy prefers one whole-document call when the host asks for it
// and the model's context window fits the input.
func selectStrategy(input string, caps model.Capabilities, opts internal.Options) Strategy {
	if !opts.PreferWholeDocument {
		return StrategyStructured
	}
	if caps.MaxContextLength > 0 && len(input) > caps.MaxContextLength*promptCharsPerToken {
		return StrategyStructured
	}
	return StrategyWhole
}

func (o *Orchestrator) translateWhole(ctx context.Context, h *model.Handle, input string, opts internal.Options) (string, error) {
	cctx, cancel := callContext(ctx, opts)
	defer cancel()
	return h.TranslateInstruction(cctx, model.InstructionRequest{
		Instruction:    input,
		TargetLanguage: opts.TargetLanguage,
	}, sampling(opts))
}

type blockOutput struct {
	code   string
	span   internal.Span
	failed bool
}

// translateBlocks runs the structured strategy: code and comment blocks pass
// through verbatim, mixed blocks are split and dispatched run by run, and
// natural-language blocks go to the model. A failing block is recorded
// against its span with a placeholder comment and processing continues.
// boundary pre-seeds the generated-code tail so the first model call already
// sees the preceding chunk's output context.
func (o *Orchestrator) translateBlocks(ctx context.Context, id string, h *model.Handle, blocks []internal.Block, warnings []string, boundary string, opts internal.Options) ([]blockOutput, []string, []string) {
	var outputs []blockOutput
	var failures []string

	// Mixed blocks split into natural-language/code runs before dispatch.
	var units []internal.Block
	for _, b := range blocks {
		if b.Type == internal.BlockMixed {
			units = append(units, parser.SplitMixed(b)...)
		} else {
			units = append(units, b)
		}
	}

	var generated strings.Builder
	if boundary != "" {
		generated.WriteString(boundary)
		generated.WriteByte('\n')
	}
	for i, b := range units {
		if cancelled(ctx) {
			return outputs, warnings, failures
		}
		progress := 10 + (60*(i+1))/len(units)
		o.status(id, internal.PhaseTranslating, progress,
			fmt.Sprintf("block %d/%d (lines %d-%d)", i+1, len(units), b.Span.StartLine, b.Span.EndLine))

		switch b.Type {
		case internal.BlockTargetCode, internal.BlockComment:
			outputs = append(outputs, blockOutput{code: b.Content, span: b.Span})
			generated.WriteString(b.Content)
			generated.WriteByte('\n')
			continue
		}

		cctx, cancelCall := callContext(ctx, opts)
		out, err := h.TranslateInstruction(cctx, model.InstructionRequest{
			Instruction:    b.Content,
			TargetLanguage: opts.TargetLanguage,
			Context:        tail(generated.String(), contextTailBytes),
		}, sampling(opts))
		cancelCall()
		if err != nil {
			msg := fmt.Sprintf("lines %d-%d: %s", b.Span.StartLine, b.Span.EndLine, errString(err))
			failures = append(failures, msg)
			warnings = append(warnings, msg)
			outputs = append(outputs, blockOutput{
				code:   placeholderComment(b.Span, errString(err)),
				span:   b.Span,
				failed: true,
			})
			o.log.Warnw("block translation failed", "span", b.Span, "lines", b.Span.Lines(), "error", err)
			continue
		}
		outputs = append(outputs, blockOutput{code: out, span: b.Span})
		generated.WriteString(out)
		generated.WriteByte('\n')
	}
	return outputs, warnings, failures
}

// allFailed reports whether every produced output failed: the case where
// graceful degradation has nothing left to degrade to, including the sole
// top-level block failing.
func allFailed(outputs []blockOutput) bool {
	for _, out := range outputs {
		if !out.failed {
			return false
		}
	}
	return len(outputs) > 0
}

// assemble concatenates block outputs in original order and hoists a merged,
// deduplicated import header (stdlib, third-party, local; alphabetical
// within each group).
func assemble(outputs []blockOutput) string {
	var bodies []string
	var imports []string

	for _, out := range outputs {
		var kept []string
		for _, line := range strings.Split(out.code, "\n") {
			if canon := resolver.NormalizeImport(line); canon != nil {
				imports = append(imports, canon...)
				continue
			}
			kept = append(kept, line)
		}
		body := strings.Trim(strings.Join(kept, "\n"), "\n")
		if body != "" {
			bodies = append(bodies, body)
		}
	}

	merged := resolver.MergeImports(imports)
	var sb strings.Builder
	if len(merged) > 0 {
		sb.WriteString(strings.Join(merged, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(strings.Join(bodies, "\n\n"))
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// validateAndRefine runs the validator and, while attempts remain, feeds the
// top errors through the refiner and re-validates. The final result reflects
// the last validation outcome and carries stylistic suggestions for the
// final code.
func (o *Orchestrator) validateAndRefine(ctx context.Context, h *model.Handle, v *validator.Validator, code string, opts internal.Options) (string, internal.ValidationResult) {
	vres := v.Validate(code)
	if !vres.IsValid && opts.MaxFixAttempts > 0 {
		ref := refiner.New(opts.TargetLanguage, o.log)
		for attempt := 0; attempt < opts.MaxFixAttempts && !vres.IsValid; attempt++ {
			if cancelled(ctx) {
				break
			}
			fixed, _ := ref.AttemptFixes(ctx, code, vres.Errors, h, sampling(opts), opts.TimeoutSeconds)
			if fixed == code {
				// The model changed nothing; further attempts would repeat it.
				break
			}
			code = fixed
			vres = v.Validate(code)
		}
	}
	vres.Suggestions = v.SuggestImprovements(code)
	return code, vres
}

func (o *Orchestrator) status(id string, phase internal.Phase, progress int, msg string) {
	o.publish(internal.Event{Kind: internal.EventStatus, RequestID: id, Phase: phase, Progress: progress, Message: msg})
	o.publish(internal.Event{Kind: internal.EventProgress, RequestID: id, Phase: phase, Progress: progress})
}

func sampling(opts internal.Options) model.SamplingParams {
	return model.SamplingParams{Temperature: opts.Temperature, MaxTokens: opts.MaxTokens}
}

// callContext bounds one model call by the configured timeout.
func callContext(ctx context.Context, opts internal.Options) (context.Context, context.CancelFunc) {
	if opts.TimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
}

func placeholderComment(span internal.Span, msg string) string {
	return fmt.Sprintf("# [untranslated lines %d-%d] %s", span.StartLine, span.EndLine, msg)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func errString(err error) string {
	switch {
	case errors.Is(err, internal.ErrTranslationTimeout):
		return "model call timed out"
	default:
		return err.Error()
	}
}

func issueString(is internal.ValidationIssue) string {
	if is.Line > 0 {
		return fmt.Sprintf("line %d: %s", is.Line, is.Message)
	}
	return is.Message
}

func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

func cancelledResult() internal.TranslationResult {
	return internal.TranslationResult{
		Success:   false,
		Cancelled: true,
		Errors:    []string{"translation cancelled"},
	}
}

func failedResult(errs []string) internal.TranslationResult {
	return internal.TranslationResult{Success: false, Errors: errs}
}

func parseErrors(pr internal.ParseResult) []string {
	out := make([]string, 0, len(pr.Errors))
	for _, e := range pr.Errors {
		out = append(out, fmt.Sprintf("parse error at line %d: %s", e.Line, e.Message))
	}
	return out
}

// TranslateStreaming translates a large input as an ordered, finite sequence
// of per-chunk results. Configuration errors return synchronously; the
// channel is fresh per call and closed after the final chunk.
func (o *Orchestrator) TranslateStreaming(ctx context.Context, input string, opts internal.Options) (<-chan internal.TranslationResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	o.track(id, cancel)

	o.publish(internal.Event{Kind: internal.EventStarted, RequestID: id})
	o.status(id, internal.PhaseParsing, 5, "classifying input")

	parsed := o.parse(input, opts)
	if !parsed.Success {
		o.untrack(id)
		cancel()
		out := make(chan internal.TranslationResult, 1)
		out <- failedResult(parseErrors(parsed))
		close(out)
		return out, nil
	}

	pipe := streaming.New(opts, o.log)
	inner := pipe.Run(ctx, parsed.Blocks, func(cctx context.Context, chunk internal.StreamingChunk) internal.TranslationResult {
		chunkOpts := opts
		// Chunks are translated independently; whole-document mode would
		// defeat the memory bound. The overlap snippet from the preceding
		// chunk rides along as initial model context.
		chunkOpts.PreferWholeDocument = false
		return o.run(cctx, id, chunk.Content, chunk.Boundary[streaming.BoundaryContext], chunkOpts)
	})

	out := make(chan internal.TranslationResult)
	go func() {
		defer close(out)
		defer o.untrack(id)
		defer cancel()

		index := 0
		for res := range inner {
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
			o.publish(internal.Event{Kind: internal.EventStreamChunkDone, RequestID: id, ChunkIndex: index})
			index++
		}
		o.publish(internal.Event{Kind: internal.EventStreamCompleted, RequestID: id, Progress: 100})
	}()
	return out, nil
}
