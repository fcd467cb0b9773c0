// Package model is the abstraction layer over interchangeable code
// generation backends. Backends are registered in a process-wide Registry
// with a descriptor naming their capabilities; the rest of the pipeline
// only ever sees a Handle.
package model

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/valpere/pseudotran/internal"
)

// Capabilities declares what a backend can do. Immutable after registration.
type Capabilities struct {
	MaxContextLength  int  `json:"max_context_length"`
	SupportsStreaming bool `json:"supports_streaming"`
	SupportsGPU       bool `json:"supports_gpu"`
}

// Descriptor identifies a registered backend. Immutable after registration.
type Descriptor struct {
	Name         string       `json:"name"`
	Aliases      []string     `json:"aliases,omitempty"`
	Format       string       `json:"format"`
	Capabilities Capabilities `json:"capabilities"`
}

// SamplingParams tune one generation call.
type SamplingParams struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// InstructionRequest is one natural-language instruction to turn into code.
type InstructionRequest struct {
	Instruction    string
	TargetLanguage string
	// Context is surrounding already-generated code, used to keep naming and
	// style consistent across blocks. May be empty.
	Context string
}

// Backend is the minimal generation contract a backend must implement.
type Backend interface {
	// Generate produces text for prompt. It must honor ctx cancellation and
	// deadline.
	Generate(ctx context.Context, prompt string, params SamplingParams) (string, error)

	// Close releases the backend's resources deterministically.
	Close() error
}

// TokenStreamer is the optional streaming extension. Backends that do not
// implement it fall back to one-shot generation emitted as a single token.
type TokenStreamer interface {
	StreamGenerate(ctx context.Context, prompt string, params SamplingParams, onToken func(string)) error
}

// Factory builds a backend instance from a model path and free-form options.
type Factory func(path string, options map[string]string) (Backend, error)

// mapCallError converts context errors from a model call into the pipeline's
// error taxonomy.
func mapCallError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(err, internal.ErrTranslationTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return errors.Mark(err, internal.ErrCancelled)
	}
	return err
}

// BuildInstructionPrompt renders the task prompt for one instruction. The
// model is told to emit code only; postprocess strips whatever slips through
// anyway.
func BuildInstructionPrompt(req InstructionRequest) string {
	if req.Context == "" {
		return fmt.Sprintf(`You are an expert %s programmer.
Convert the following instruction into working %s code.
Only respond with the code, nothing else. No explanations, no markdown fences.

Instruction: %s

Code:`, req.TargetLanguage, req.TargetLanguage, req.Instruction)
	}

	return fmt.Sprintf(`You are an expert %s programmer.
Convert the following instruction into working %s code.
The code must fit the surrounding program shown below: reuse its names and style.
Only respond with the code for the instruction, nothing else. No explanations, no markdown fences.

Surrounding code:
%s

Instruction: %s

Code:`, req.TargetLanguage, req.TargetLanguage, req.Context, req.Instruction)
}
