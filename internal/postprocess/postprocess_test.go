package postprocess_test

import (
	"testing"

	"github.com/valpere/pseudotran/internal/postprocess"
)

func TestClean_ThinkingBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "complete thinking block",
			input:    "<thinking>let me work this out</thinking>\ndef f():\n    pass",
			expected: "def f():\n    pass",
		},
		{
			name:     "think tag variant",
			input:    "<think>hmm</think>x = 1",
			expected: "x = 1",
		},
		{
			name:     "truncated thinking block",
			input:    "x = 1\n<thinking>never closed",
			expected: "x = 1",
		},
		{
			name:     "no thinking block",
			input:    "def g():\n    return 2",
			expected: "def g():\n    return 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := postprocess.Clean(tt.input)
			if got != tt.expected {
				t.Errorf("Clean() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClean_InstructionEchoes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "here is the code",
			input:    "Here is the code:\ndef f():\n    pass",
			expected: "def f():\n    pass",
		},
		{
			name:     "corrected code",
			input:    "Here's the corrected code:\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "sure here is",
			input:    "Sure, here is the implementation:\ny = 2",
			expected: "y = 2",
		},
		{
			name:     "mid-text phrase untouched",
			input:    "x = 1  # here is the code: nothing",
			expected: "x = 1  # here is the code: nothing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := postprocess.Clean(tt.input)
			if got != tt.expected {
				t.Errorf("Clean() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClean_CodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "python fence",
			input:    "```python\ndef f():\n    pass\n```",
			expected: "def f():\n    pass",
		},
		{
			name:     "bare fence",
			input:    "```\nx = 1\n```",
			expected: "x = 1",
		},
		{
			name:     "fence with trailing prose",
			input:    "```python\nx = 1\n```\nThis function does nothing.",
			expected: "x = 1",
		},
		{
			name:     "unterminated fence",
			input:    "```python\nx = 1",
			expected: "x = 1",
		},
		{
			name:     "no fence",
			input:    "x = 1",
			expected: "x = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := postprocess.Clean(tt.input)
			if got != tt.expected {
				t.Errorf("Clean() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClean_AllPhases(t *testing.T) {
	input := "<thinking>needs a loop</thinking>\nHere is the code:\n```python\nfor i in range(3):\n    print(i)\n```"
	expected := "for i in range(3):\n    print(i)"
	if got := postprocess.Clean(input); got != expected {
		t.Errorf("Clean() = %q, want %q", got, expected)
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"```python\ndef f():\n    pass\n```",
		"Here is the code:\nx = 1",
		"plain = True",
	}
	for _, input := range inputs {
		once := postprocess.Clean(input)
		twice := postprocess.Clean(once)
		if once != twice {
			t.Errorf("Clean not idempotent for %q: %q vs %q", input, once, twice)
		}
	}
}
