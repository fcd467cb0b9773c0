// Package parser classifies raw pseudocode input into an ordered list of
// typed blocks. Classification is line-oriented: each line is scored for
// code-likeness and prose-likeness, adjacent lines of the same kind are
// grouped into one block, and lines the scorer cannot decide are tagged
// Mixed for later splitting.
package parser

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/valpere/pseudotran/internal"
)

// Scoring thresholds. A line is classified by comparing its code and prose
// scores; when neither side wins by at least AmbiguityMargin the line is
// ambiguous and ends up in a Mixed block.
const (
	// CodeThreshold is the minimum code score for a confident TargetCode line.
	CodeThreshold = 0.45

	// ProseThreshold is the minimum prose score for a confident
	// NaturalLanguage line.
	ProseThreshold = 0.45

	// AmbiguityMargin is the minimum score separation required for a
	// confident single-type classification.
	AmbiguityMargin = 0.15

	// SplitMargin is the tighter separation used when re-scanning a Mixed
	// block line by line. Ties resolve to TargetCode: passthrough is cheaper
	// than an unnecessary model call.
	SplitMargin = 0.05
)

// codeKeywords are strong code signals when they appear as the first word or
// as standalone tokens.
var codeKeywords = map[string]struct{}{
	"def": {}, "func": {}, "function": {}, "class": {}, "struct": {},
	"return": {}, "import": {}, "from": {}, "package": {}, "var": {},
	"let": {}, "const": {}, "if": {}, "elif": {}, "else": {}, "for": {},
	"while": {}, "switch": {}, "case": {}, "try": {}, "except": {},
	"catch": {}, "finally": {}, "lambda": {}, "print": {}, "raise": {},
	"throw": {}, "yield": {}, "pass": {}, "break": {}, "continue": {},
}

// proseMarkers are common English function words; their density is a strong
// natural-language signal.
var proseMarkers = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "be": {},
	"to": {}, "of": {}, "and": {}, "or": {}, "that": {}, "which": {},
	"should": {}, "must": {}, "will": {}, "with": {}, "then": {},
	"when": {}, "each": {}, "all": {}, "this": {}, "it": {}, "by": {},
}

var commentPrefixes = []string{"#", "//", "--", "/*", "*", ";;"}

// Parser classifies raw input text into blocks.
type Parser struct {
	log *zap.SugaredLogger
}

// New creates a Parser. A nil logger is replaced with a no-op logger.
func New(log *zap.SugaredLogger) *Parser {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Parser{log: log}
}

// Parse classifies text into an ordered list of blocks whose spans cover
// every input line exactly once. It never panics; fatal problems (invalid
// encoding) are reported through ParseResult.Errors with Success=false.
func (p *Parser) Parse(text string) internal.ParseResult {
	if text == "" {
		return internal.ParseResult{Success: true}
	}

	if !utf8.ValidString(text) {
		line := invalidLine(text)
		return internal.ParseResult{
			Success: false,
			Errors: []internal.ParseIssue{
				{Line: line, Message: "input is not valid UTF-8"},
			},
		}
	}

	text = norm.NFC.String(text)
	lines := strings.Split(text, "\n")

	result := internal.ParseResult{Success: true}

	kinds := make([]internal.BlockType, len(lines))
	inFence := false
	inTripleQuote := false
	fenceStart := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case inFence:
			kinds[i] = internal.BlockTargetCode
			if strings.HasPrefix(trimmed, "```") {
				inFence = false
			}
		case inTripleQuote:
			kinds[i] = internal.BlockTargetCode
			if strings.Contains(trimmed, `"""`) || strings.Contains(trimmed, "'''") {
				inTripleQuote = false
			}
		case strings.HasPrefix(trimmed, "```"):
			kinds[i] = internal.BlockTargetCode
			inFence = true
			fenceStart = i + 1
		case startsTripleQuote(trimmed):
			kinds[i] = internal.BlockTargetCode
			inTripleQuote = true
			fenceStart = i + 1
		case trimmed == "":
			// Blank lines inherit the surrounding block type; resolved below.
			kinds[i] = ""
		case isComment(trimmed):
			kinds[i] = internal.BlockComment
		default:
			kind, _ := ClassifyLine(line)
			kinds[i] = kind
		}
	}

	if inFence || inTripleQuote {
		result.Warnings = append(result.Warnings,
			warnUnterminated(fenceStart))
		p.log.Debugw("unterminated multi-line construct", "start_line", fenceStart)
	}

	resolveBlanks(kinds)
	result.Blocks = group(lines, kinds)
	result.Metadata = map[string]string{"lines": strconv.Itoa(len(lines))}
	return result
}

// ClassifyLine scores one line and returns its block type with a confidence
// in [0,1]. Confidence is the separation between the code and prose scores;
// an ambiguous line (separation below AmbiguityMargin, or both scores weak)
// is classified Mixed.
func ClassifyLine(line string) (internal.BlockType, float64) {
	code := CodeScore(line)
	prose := ProseScore(line)
	sep := code - prose
	if sep < 0 {
		sep = -sep
	}

	switch {
	case code >= CodeThreshold && code-prose >= AmbiguityMargin:
		return internal.BlockTargetCode, sep
	case prose >= ProseThreshold && prose-code >= AmbiguityMargin:
		return internal.BlockNaturalLanguage, sep
	default:
		return internal.BlockMixed, sep
	}
}

// ClassifySplit is the tighter re-scan used when separating a Mixed block.
// Every line resolves to either TargetCode or NaturalLanguage; ties and
// near-ties go to TargetCode.
func ClassifySplit(line string) internal.BlockType {
	code := CodeScore(line)
	prose := ProseScore(line)
	if prose-code > SplitMargin {
		return internal.BlockNaturalLanguage
	}
	return internal.BlockTargetCode
}

// CodeScore estimates how code-like a line is, in [0,1]. Signals: leading
// code keyword, keyword tokens, structural trailers (: { } ;), operators,
// call-like parentheses, and indentation.
func CodeScore(line string) float64 {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0
	}

	var score float64
	words := strings.FieldsFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	if len(words) > 0 {
		if _, ok := codeKeywords[strings.ToLower(words[0])]; ok {
			score += 0.35
		}
	}
	hits := 0
	for _, w := range words {
		if _, ok := codeKeywords[strings.ToLower(w)]; ok {
			hits++
		}
	}
	if hits > 1 {
		score += 0.1
	}

	switch {
	case strings.HasSuffix(trimmed, ":"), strings.HasSuffix(trimmed, "{"),
		strings.HasSuffix(trimmed, "}"), strings.HasSuffix(trimmed, ";"):
		score += 0.25
	}

	for _, op := range []string{"==", "!=", "<=", ">=", "->", ":=", "+=", "-=", "=", "()", "[]"} {
		if strings.Contains(trimmed, op) {
			score += 0.15
			break
		}
	}

	if callLike(trimmed) {
		score += 0.2
	}

	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	return score
}

// ProseScore estimates how natural-language-like a line is, in [0,1].
// Signals: function-word density, sentence-final punctuation, sentence
// casing, and absence of code symbols.
func ProseScore(line string) float64 {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0
	}

	words := strings.Fields(trimmed)
	var score float64

	hits := 0
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,!?;:\"'"))
		if _, ok := proseMarkers[clean]; ok {
			hits++
		}
	}
	if len(words) > 0 {
		density := float64(hits) / float64(len(words))
		score += density * 1.2
	}

	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "!") {
		score += 0.2
	}

	first, _ := utf8.DecodeRuneInString(trimmed)
	if unicode.IsUpper(first) && len(words) >= 4 {
		score += 0.15
	}

	// Indentation is a code signal; the no-symbol bonus only applies to
	// lines starting at column zero.
	indented := len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
	if !indented && !strings.ContainsAny(trimmed, "{}();=<>[]") && len(words) >= 3 {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	return score
}

// SplitMixed re-scans a Mixed block line by line with the tighter scorer and
// returns an ordered run sequence of NaturalLanguage/TargetCode blocks whose
// spans partition the original block's span. Non-Mixed blocks are returned
// unchanged.
func SplitMixed(b internal.Block) []internal.Block {
	if b.Type != internal.BlockMixed {
		return []internal.Block{b}
	}

	lines := strings.Split(b.Content, "\n")
	kinds := make([]internal.BlockType, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			kinds[i] = ""
			continue
		}
		kinds[i] = ClassifySplit(line)
	}
	resolveBlanks(kinds)

	runs := group(lines, kinds)
	for i := range runs {
		// Rebase run spans onto the original document coordinates.
		runs[i].Span.StartLine += b.Span.StartLine - 1
		runs[i].Span.EndLine += b.Span.StartLine - 1
	}
	return runs
}

// resolveBlanks assigns blank lines (empty kind) the type of the preceding
// classified line; leading blanks take the type of the first classified line.
func resolveBlanks(kinds []internal.BlockType) {
	last := internal.BlockType("")
	for i := range kinds {
		if kinds[i] != "" {
			last = kinds[i]
		} else if last != "" {
			kinds[i] = last
		}
	}
	// Leading blanks: inherit from the first non-blank line.
	first := internal.BlockType("")
	for _, k := range kinds {
		if k != "" {
			first = k
			break
		}
	}
	if first == "" {
		first = internal.BlockNaturalLanguage
	}
	for i := range kinds {
		if kinds[i] == "" {
			kinds[i] = first
		} else {
			break
		}
	}
}

// group folds adjacent same-type lines into blocks with 1-based spans.
func group(lines []string, kinds []internal.BlockType) []internal.Block {
	var blocks []internal.Block
	start := 0
	for i := 1; i <= len(lines); i++ {
		if i < len(lines) && kinds[i] == kinds[start] {
			continue
		}
		blocks = append(blocks, internal.Block{
			Type:    kinds[start],
			Content: strings.Join(lines[start:i], "\n"),
			Span:    internal.Span{StartLine: start + 1, EndLine: i},
		})
		start = i
	}
	return blocks
}

func isComment(trimmed string) bool {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func startsTripleQuote(trimmed string) bool {
	for _, q := range []string{`"""`, "'''"} {
		if strings.HasPrefix(trimmed, q) && strings.Count(trimmed, q) == 1 {
			return true
		}
	}
	return false
}

// callLike reports whether the line contains an identifier immediately
// followed by an opening parenthesis.
func callLike(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] == '(' {
			prev := rune(s[i-1])
			if unicode.IsLetter(prev) || unicode.IsDigit(prev) || prev == '_' {
				return true
			}
		}
	}
	return false
}

// invalidLine returns the 1-based line number containing the first invalid
// UTF-8 byte.
func invalidLine(text string) int {
	line := 1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size <= 1 {
			return line
		}
		if r == '\n' {
			line++
		}
		i += size
	}
	return line
}

func warnUnterminated(startLine int) string {
	return "unterminated multi-line construct starting at line " + strconv.Itoa(startLine) + " extends to end of input"
}
