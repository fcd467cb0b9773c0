// Package postprocess removes common LLM artifacts from generated code.
//
// It is applied to the raw text returned by any LLM backend before the
// result is validated or assembled.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean removes LLM artifacts from raw model output in three phases and
// returns the trimmed result:
//  1. Thinking / reasoning block removal
//  2. Instruction echo removal (prompt leakage)
//  3. Markdown code-fence unwrapping
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removeInstructionEchoes(text)
	text = unwrapCodeFence(text)
	return strings.TrimRight(strings.TrimLeft(text, "\n"), " \t\n")
}

// --- Phase 1: thinking blocks ---

// thinkingBlockRe matches complete <thinking>…</thinking> style blocks.
// Each tag variant is listed explicitly because Go's RE2 engine does not
// support backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// truncatedThinkingRe matches an opened thinking tag whose closing tag is
// missing (the model was cut off mid-thought).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// --- Phase 2: instruction echoes ---

// echoPatterns match introductory phrases that LLMs sometimes prepend even
// when instructed not to. Each pattern is anchored to the start of the
// string and requires a colon to reduce false positives.
var echoPatterns = []*regexp.Regexp{
	// "Here is / Here's [the] [corrected|fixed|generated|translated] code:"
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:corrected |fixed |generated |translated |updated )?(?:code|implementation|function|version)\s*:`),
	// "[The] [corrected|fixed] [code|implementation]:"
	regexp.MustCompile(`(?i)^(?:the )?(?:corrected |fixed |generated |translated )?(?:code|implementation)\s*:`),
	// "Certainly / Sure / Of course[,] here is [the] code:"
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:corrected |fixed |generated )?(?:code|implementation)\s*:`),
}

func removeInstructionEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// --- Phase 3: code-fence unwrapping ---

// fenceOpenRe matches an opening markdown fence with an optional language
// tag, e.g. ```python.
var fenceOpenRe = regexp.MustCompile("^```[a-zA-Z0-9_+-]*[ \t]*\n")

// unwrapCodeFence strips a single pair of outer markdown fences when the
// entire output is wrapped in them. Fences inside the code are left alone.
func unwrapCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	loc := fenceOpenRe.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 {
		return text
	}
	body := trimmed[loc[1]:]

	end := strings.LastIndex(body, "```")
	if end < 0 {
		// Opening fence without a closing one: drop the opener only.
		return body
	}
	if strings.TrimSpace(body[end+3:]) != "" {
		// Trailing prose after the closing fence is another artifact; the
		// fenced part is the code.
		return strings.TrimRight(body[:end], "\n")
	}
	return strings.TrimRight(body[:end], "\n")
}
