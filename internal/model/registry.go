package model

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/valpere/pseudotran/internal"
	"github.com/valpere/pseudotran/internal/postprocess"
)

// defaultCallRate bounds how fast one loaded handle may issue backend calls.
const (
	defaultCallRate  = rate.Limit(10)
	defaultCallBurst = 10
)

type entry struct {
	desc    Descriptor
	factory Factory
}

// Registry is the process-wide table of registered backends and loaded
// handles. Registration happens at startup; Load and Unload are serialized
// by a mutex so a handle is never reinitialized concurrently. Generate calls
// on a loaded handle are safe to share between invocations.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	aliases map[string]string
	loaded  map[string]*Handle
	log     *zap.SugaredLogger
}

// NewRegistry creates an empty registry. A nil logger is replaced with a
// no-op logger.
func NewRegistry(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		entries: make(map[string]entry),
		aliases: make(map[string]string),
		loaded:  make(map[string]*Handle),
		log:     log,
	}
}

// Register adds a backend under its descriptor's name and aliases.
// Registering a duplicate name or alias is an error.
func (r *Registry) Register(desc Descriptor, f Factory) error {
	if desc.Name == "" {
		return internal.ConfigErrorf("descriptor name is required")
	}
	if f == nil {
		return internal.ConfigErrorf("factory is required for model %q", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[desc.Name]; ok {
		return errors.Newf("model %q already registered", desc.Name)
	}
	if _, ok := r.aliases[desc.Name]; ok {
		return errors.Newf("model name %q collides with an alias", desc.Name)
	}
	for _, a := range desc.Aliases {
		if _, ok := r.aliases[a]; ok {
			return errors.Newf("alias %q already registered", a)
		}
		if _, ok := r.entries[a]; ok {
			return errors.Newf("alias %q collides with a model name", a)
		}
	}

	r.entries[desc.Name] = entry{desc: desc, factory: f}
	for _, a := range desc.Aliases {
		r.aliases[a] = desc.Name
	}
	r.log.Debugw("model registered", "name", desc.Name, "format", desc.Format)
	return nil
}

// Load instantiates the named backend and returns a shared handle. A second
// Load of the same name returns the existing handle. Missing registration or
// a missing model file yields ErrModelNotFound; a factory failure yields
// ErrModelLoad.
func (r *Registry) Load(name, path string, options map[string]string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical := name
	if target, ok := r.aliases[name]; ok {
		canonical = target
	}

	e, ok := r.entries[canonical]
	if !ok {
		return nil, errors.Mark(errors.Newf("model %q is not registered", name), internal.ErrModelNotFound)
	}

	if h, ok := r.loaded[canonical]; ok {
		return h, nil
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Mark(
				errors.Wrapf(err, "model file for %q", name),
				internal.ErrModelNotFound)
		}
	}

	backend, err := e.factory(path, options)
	if err != nil {
		return nil, errors.Mark(
			errors.Wrapf(err, "initializing model %q", name),
			internal.ErrModelLoad)
	}

	h := &Handle{
		desc:    e.desc,
		backend: backend,
		limiter: rate.NewLimiter(defaultCallRate, defaultCallBurst),
	}
	r.loaded[canonical] = h
	r.log.Infow("model loaded", "name", canonical, "path", path)
	return h, nil
}

// Unload closes the named backend and removes its handle. Unloading a model
// that is not loaded is a no-op.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical := name
	if target, ok := r.aliases[name]; ok {
		canonical = target
	}

	h, ok := r.loaded[canonical]
	if !ok {
		return nil
	}
	delete(r.loaded, canonical)
	r.log.Infow("model unloaded", "name", canonical)
	return h.backend.Close()
}

// Close unloads every loaded handle, returning the first close error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for name, h := range r.loaded {
		if err := h.backend.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.loaded, name)
	}
	return first
}

// Descriptors lists registered backends in no particular order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	return out
}

// Handle is a loaded backend. Generate calls may be shared across concurrent
// invocations; the registry serializes load/unload.
type Handle struct {
	desc    Descriptor
	backend Backend
	limiter *rate.Limiter
	calls   atomic.Int64
}

// Descriptor returns the handle's immutable descriptor.
func (h *Handle) Descriptor() Descriptor { return h.desc }

// Calls returns the number of backend generation calls issued through this
// handle.
func (h *Handle) Calls() int64 { return h.calls.Load() }

// Generate runs one synchronous generation call, bounded by the context
// deadline. Deadline overruns surface as ErrTranslationTimeout.
func (h *Handle) Generate(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", mapCallError(err)
	}
	h.calls.Add(1)

	out, err := h.backend.Generate(ctx, prompt, params)
	if err != nil {
		return "", mapCallError(err)
	}
	return out, nil
}

// GenerateWithTimeout wraps Generate in a deadline of the given number of
// seconds (0 means no extra deadline).
func (h *Handle) GenerateWithTimeout(ctx context.Context, prompt string, params SamplingParams, timeoutSeconds int) (string, error) {
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}
	return h.Generate(ctx, prompt, params)
}

// TranslateInstruction builds the task prompt for one instruction, calls the
// backend, and cleans LLM artifacts from the output.
func (h *Handle) TranslateInstruction(ctx context.Context, req InstructionRequest, params SamplingParams) (string, error) {
	out, err := h.Generate(ctx, BuildInstructionPrompt(req), params)
	if err != nil {
		return "", err
	}
	return postprocess.Clean(out), nil
}

// StreamGenerate emits tokens through onToken. Backends without native
// streaming fall back to one-shot generation delivered as a single token.
func (h *Handle) StreamGenerate(ctx context.Context, prompt string, params SamplingParams, onToken func(string)) error {
	if s, ok := h.backend.(TokenStreamer); ok && h.desc.Capabilities.SupportsStreaming {
		if err := h.limiter.Wait(ctx); err != nil {
			return mapCallError(err)
		}
		h.calls.Add(1)
		return mapCallError(s.StreamGenerate(ctx, prompt, params, onToken))
	}

	out, err := h.Generate(ctx, prompt, params)
	if err != nil {
		return err
	}
	onToken(out)
	return nil
}
