// Package refiner implements the bounded auto-repair stage. It builds one
// repair prompt from the failing code plus the most relevant validation
// errors and asks the active model for a corrected version.
//
// Refinement is a best-effort optimization, not a correctness guarantee:
// model failures are absorbed and the original code is returned unchanged.
package refiner

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/valpere/pseudotran/internal"
	"github.com/valpere/pseudotran/internal/model"
)

const (
	// TopErrors is how many validation errors go into one repair prompt.
	TopErrors = 3

	// duplicateRatio: two error messages whose normalized edit distance is
	// below this are treated as duplicates and collapsed.
	duplicateRatio = 0.3

	// promptCharsPerToken approximates the context budget in characters.
	promptCharsPerToken = 4

	truncationMarker = "\n# ... (truncated) ...\n"
)

// Refiner repairs invalid generated code through the active model.
type Refiner struct {
	targetLang string
	log        *zap.SugaredLogger
}

// New creates a Refiner for one target language. A nil logger is replaced
// with a no-op logger.
func New(targetLang string, log *zap.SugaredLogger) *Refiner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Refiner{targetLang: targetLang, log: log}
}

// AttemptFixes sends one repair prompt built from code and the top errors to
// the model and returns the corrected code plus the errors that did not fit
// the prompt. The input is never mutated. When the model call fails or
// returns nothing usable, the original code comes back with no remaining
// errors: failures are absorbed, never propagated.
func (r *Refiner) AttemptFixes(ctx context.Context, code string, issues []internal.ValidationIssue, h *model.Handle, params model.SamplingParams, timeoutSeconds int) (string, []internal.ValidationIssue) {
	if len(issues) == 0 || h == nil {
		return code, nil
	}

	top, rest := SelectTopErrors(issues, TopErrors)
	prompt := r.buildRepairPrompt(code, top, h.Descriptor().Capabilities.MaxContextLength)

	fixed, err := h.GenerateWithTimeout(ctx, prompt, params, timeoutSeconds)
	if err != nil {
		r.log.Warnw("fix attempt failed, keeping original code", "error", err)
		return code, nil
	}
	fixed = strings.TrimSpace(fixed)
	if fixed == "" {
		r.log.Debugw("model returned empty fix, keeping original code")
		return code, nil
	}
	return fixed, rest
}

// SelectTopErrors ranks issues by severity then line number, collapses
// near-duplicate messages, and splits off the first n. The second return
// value holds the issues that were not selected.
func SelectTopErrors(issues []internal.ValidationIssue, n int) ([]internal.ValidationIssue, []internal.ValidationIssue) {
	ranked := make([]internal.ValidationIssue, 0, len(issues))
	for _, is := range issues {
		if is.Severity == internal.SeverityError {
			ranked = append(ranked, is)
		}
	}
	for _, is := range issues {
		if is.Severity != internal.SeverityError {
			ranked = append(ranked, is)
		}
	}

	var unique []internal.ValidationIssue
	for _, is := range ranked {
		dup := false
		for _, kept := range unique {
			if nearDuplicate(is.Message, kept.Message) {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, is)
		}
	}

	if len(unique) <= n {
		return unique, nil
	}
	return unique[:n], unique[n:]
}

// nearDuplicate compares messages by normalized Levenshtein distance.
func nearDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return true
	}
	d := levenshtein.ComputeDistance(a, b)
	return float64(d)/float64(longest) < duplicateRatio
}

func (r *Refiner) buildRepairPrompt(code string, issues []internal.ValidationIssue, maxContext int) string {
	var errLines []string
	for _, is := range issues {
		if is.Line > 0 {
			errLines = append(errLines, fmt.Sprintf("- line %d: %s", is.Line, is.Message))
		} else {
			errLines = append(errLines, "- "+is.Message)
		}
	}

	header := fmt.Sprintf(`You are an expert %s programmer.
The following %s code has validation errors. Fix them.
Only respond with the complete corrected code, nothing else. No explanations, no markdown fences.

Errors:
%s

Code:
`, r.targetLang, r.targetLang, strings.Join(errLines, "\n"))

	if maxContext > 0 {
		budget := maxContext*promptCharsPerToken - len(header)
		code = truncateMiddle(code, budget)
	}
	return header + code
}

// truncateMiddle keeps the head and tail of code within budget characters,
// replacing the middle with a marker. Errors usually reference either end;
// the middle is the least useful part to keep.
func truncateMiddle(code string, budget int) string {
	if budget <= 0 || len(code) <= budget {
		return code
	}
	keep := (budget - len(truncationMarker)) / 2
	if keep <= 0 {
		return code[:budget]
	}
	return code[:keep] + truncationMarker + code[len(code)-keep:]
}
