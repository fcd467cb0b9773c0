package model

import (
	"context"
	"strings"
	"unicode"
)

// EchoBackend is a deterministic offline backend. It turns each instruction
// into a stub function whose name is derived from the instruction text, so
// the pipeline can run end to end with no model server. Output is a pure
// function of the prompt, which also makes it the reference backend for
// byte-identical repeatability checks.
type EchoBackend struct{}

// NewEchoBackend creates the deterministic backend.
func NewEchoBackend() *EchoBackend { return &EchoBackend{} }

// EchoFactory adapts NewEchoBackend to the registry's Factory contract.
func EchoFactory(string, map[string]string) (Backend, error) {
	return NewEchoBackend(), nil
}

// Generate implements Backend. Sampling parameters are ignored; the output
// depends only on the prompt.
func (b *EchoBackend) Generate(_ context.Context, prompt string, _ SamplingParams) (string, error) {
	instruction := extractInstruction(prompt)
	name := identifier(instruction)

	var sb strings.Builder
	sb.WriteString("def ")
	sb.WriteString(name)
	sb.WriteString("():\n")
	sb.WriteString("    pass  # ")
	sb.WriteString(strings.TrimSpace(instruction))
	return sb.String(), nil
}

// Close implements Backend.
func (b *EchoBackend) Close() error { return nil }

// extractInstruction pulls the instruction text out of the rendered prompt;
// when the prompt has no recognizable instruction line the whole prompt is
// used.
func extractInstruction(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Instruction:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(prompt)
}

// identifier converts free text to a snake_case identifier.
func identifier(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return "generated"
	}
	if len(words) > 6 {
		words = words[:6]
	}
	name := strings.Join(words, "_")
	if unicode.IsDigit(rune(name[0])) {
		name = "f_" + name
	}
	return name
}
