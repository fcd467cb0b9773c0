package internal

import "time"

// BlockType classifies a contiguous span of input lines.
type BlockType string

const (
	BlockNaturalLanguage BlockType = "natural_language"
	BlockTargetCode      BlockType = "target_code"
	BlockMixed           BlockType = "mixed"
	BlockComment         BlockType = "comment"
)

// Span is an inclusive 1-based line range within the original input.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Lines returns the number of lines covered by the span.
func (s Span) Lines() int {
	return s.EndLine - s.StartLine + 1
}

// Block is a classified span of the input. Blocks are immutable once
// parsed; spans are non-overlapping and cover the whole input in order.
type Block struct {
	Type     BlockType         `json:"type"`
	Content  string            `json:"content"`
	Span     Span              `json:"span"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ParseIssue is a recoverable problem found while parsing, anchored to an
// input line (0 when no position applies).
type ParseIssue struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ParseResult is the outcome of classifying raw input into Blocks.
type ParseResult struct {
	Success  bool              `json:"success"`
	Blocks   []Block           `json:"blocks"`
	Errors   []ParseIssue      `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TranslationResult is the outcome of a translate call or of a single
// streaming chunk. Success implies Code is non-empty and passed validation
// (unless validation was disabled).
type TranslationResult struct {
	Success     bool              `json:"success"`
	Code        string            `json:"code,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Latency     time.Duration     `json:"latency"`
}

// Severity grades a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is a single finding from syntax or logic validation.
type ValidationIssue struct {
	Line     int      `json:"line"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult aggregates findings for one piece of generated code.
type ValidationResult struct {
	IsValid     bool              `json:"is_valid"`
	Errors      []ValidationIssue `json:"errors,omitempty"`
	Warnings    []ValidationIssue `json:"warnings,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

// StreamingChunk is a bounded slice of a large input handed to the pipeline
// as an independent unit. One TranslationResult is produced per chunk.
type StreamingChunk struct {
	Index    int               `json:"index"`
	Content  string            `json:"content"`
	Boundary map[string]string `json:"boundary,omitempty"`
	IsFinal  bool              `json:"is_final"`
}
