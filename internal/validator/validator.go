// Package validator checks generated code for structural problems. Checks
// are purely static; the code is never executed.
//
// Syntax checks (delimiter balance, unterminated strings) always produce
// errors. Logic checks (undefined names, unreachable code, unused imports)
// are best-effort and graded by the configured validation level: strict
// reports them as errors, normal as warnings, lenient skips them.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/valpere/pseudotran/internal"
	"github.com/valpere/pseudotran/internal/resolver"
)

// maxSuggestedLineLength is the line length beyond which a wrap suggestion
// is emitted.
const maxSuggestedLineLength = 100

// pythonBuiltins are names accepted without a definition during the
// undefined-name check.
var pythonBuiltins = map[string]struct{}{
	"print": {}, "len": {}, "range": {}, "int": {}, "str": {}, "float": {},
	"list": {}, "dict": {}, "set": {}, "tuple": {}, "bool": {}, "bytes": {},
	"enumerate": {}, "zip": {}, "map": {}, "filter": {}, "sum": {}, "min": {},
	"max": {}, "abs": {}, "round": {}, "sorted": {}, "reversed": {},
	"open": {}, "input": {}, "isinstance": {}, "issubclass": {}, "type": {},
	"super": {}, "getattr": {}, "setattr": {}, "hasattr": {}, "repr": {},
	"hash": {}, "id": {}, "iter": {}, "next": {}, "any": {}, "all": {},
	"format": {}, "vars": {}, "Exception": {}, "ValueError": {},
	"TypeError": {}, "KeyError": {}, "IndexError": {}, "RuntimeError": {},
	"StopIteration": {}, "NotImplementedError": {}, "self": {}, "cls": {},
}

var keywordsAsNames = map[string]struct{}{
	"if": {}, "elif": {}, "else": {}, "for": {}, "while": {}, "def": {},
	"class": {}, "return": {}, "import": {}, "from": {}, "as": {}, "in": {},
	"not": {}, "and": {}, "or": {}, "is": {}, "None": {}, "True": {},
	"False": {}, "try": {}, "except": {}, "finally": {}, "with": {},
	"lambda": {}, "pass": {}, "break": {}, "continue": {}, "raise": {},
	"yield": {}, "global": {}, "nonlocal": {}, "del": {}, "assert": {},
	"async": {}, "await": {}, "func": {}, "var": {}, "const": {}, "let": {},
	"switch": {}, "case": {}, "struct": {}, "package": {},
}

var callRe = regexp.MustCompile(`([A-Za-z_]\w*)\s*\(`)

// Validator runs syntax and logic checks at a fixed validation level.
type Validator struct {
	level internal.ValidationLevel
}

// New creates a Validator for the given level.
func New(level internal.ValidationLevel) *Validator {
	return &Validator{level: level}
}

// Level returns the validator's configured level.
func (v *Validator) Level() internal.ValidationLevel { return v.level }

// Validate runs syntax checks and, unless the level is lenient, logic
// checks, merging the findings into one result.
func (v *Validator) Validate(code string) internal.ValidationResult {
	res := v.ValidateSyntax(code)
	if v.level == internal.ValidationLenient {
		return res
	}

	logic := v.ValidateLogic(code)
	res.Errors = append(res.Errors, logic.Errors...)
	res.Warnings = append(res.Warnings, logic.Warnings...)
	res.IsValid = res.IsValid && logic.IsValid
	return res
}

// ValidateSyntax checks delimiter balance and string termination. Findings
// are always errors regardless of level.
func (v *Validator) ValidateSyntax(code string) internal.ValidationResult {
	res := internal.ValidationResult{IsValid: true}
	if strings.TrimSpace(code) == "" {
		return res
	}

	var stack []rune
	var stackLines []int
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}

	for lineNo, line := range strings.Split(code, "\n") {
		stripped, terminated := stripStrings(line)
		if !terminated {
			res.Errors = append(res.Errors, internal.ValidationIssue{
				Line:     lineNo + 1,
				Message:  "unterminated string literal",
				Severity: internal.SeverityError,
			})
		}
		stripped = stripComment(stripped)

		for _, r := range stripped {
			switch r {
			case '(', '[', '{':
				stack = append(stack, r)
				stackLines = append(stackLines, lineNo+1)
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
					res.Errors = append(res.Errors, internal.ValidationIssue{
						Line:     lineNo + 1,
						Message:  fmt.Sprintf("unmatched %q", r),
						Severity: internal.SeverityError,
					})
					continue
				}
				stack = stack[:len(stack)-1]
				stackLines = stackLines[:len(stackLines)-1]
			}
		}
	}

	for i, r := range stack {
		res.Errors = append(res.Errors, internal.ValidationIssue{
			Line:     stackLines[i],
			Message:  fmt.Sprintf("unclosed %q", r),
			Severity: internal.SeverityError,
		})
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// ValidateLogic runs best-effort static checks: undefined names used in call
// position, unreachable statements after a terminating statement, and unused
// imports. Severity follows the validation level.
func (v *Validator) ValidateLogic(code string) internal.ValidationResult {
	res := internal.ValidationResult{IsValid: true}
	if v.level == internal.ValidationLenient || strings.TrimSpace(code) == "" {
		return res
	}

	sev := internal.SeverityWarning
	if v.level == internal.ValidationStrict {
		sev = internal.SeverityError
	}

	analysis := resolver.AnalyzeBlock(code)
	imported := importedNames(analysis.RequiredImports)

	var issues []internal.ValidationIssue
	issues = append(issues, v.undefinedNames(code, analysis, imported, sev)...)
	issues = append(issues, v.unreachable(code, sev)...)
	issues = append(issues, v.unusedImports(code, imported, sev)...)

	for _, is := range issues {
		if is.Severity == internal.SeverityError {
			res.Errors = append(res.Errors, is)
		} else {
			res.Warnings = append(res.Warnings, is)
		}
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// SuggestImprovements returns stylistic suggestions. Suggestions never
// affect validity.
func (v *Validator) SuggestImprovements(code string) []string {
	var out []string
	lines := strings.Split(code, "\n")

	long := 0
	for _, line := range lines {
		if len(line) > maxSuggestedLineLength {
			long++
		}
	}
	if long > 0 {
		out = append(out, fmt.Sprintf("%d line(s) exceed %d characters; consider wrapping", long, maxSuggestedLineLength))
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "except:" || strings.HasPrefix(trimmed, "except :") {
			out = append(out, fmt.Sprintf("line %d: bare except catches everything; name the exception type", i+1))
		}
		if strings.Contains(trimmed, "TODO") || strings.Contains(trimmed, "FIXME") {
			out = append(out, fmt.Sprintf("line %d: unresolved TODO/FIXME marker", i+1))
		}
		if strings.Contains(line, "\t") && strings.HasPrefix(line, " ") {
			out = append(out, fmt.Sprintf("line %d: mixed tabs and spaces in indentation", i+1))
		}
	}
	return out
}

func (v *Validator) undefinedNames(code string, a resolver.Analysis, imported map[string]struct{}, sev internal.Severity) []internal.ValidationIssue {
	var issues []internal.ValidationIssue
	reported := make(map[string]struct{})

	for lineNo, line := range strings.Split(code, "\n") {
		stripped, _ := stripStrings(line)
		stripped = stripComment(stripped)
		for _, m := range callRe.FindAllStringSubmatch(stripped, -1) {
			name := m[1]
			if _, ok := reported[name]; ok {
				continue
			}
			if _, ok := keywordsAsNames[name]; ok {
				continue
			}
			if _, ok := pythonBuiltins[name]; ok {
				continue
			}
			if _, ok := a.DefinedNames[name]; ok {
				continue
			}
			if _, ok := imported[name]; ok {
				continue
			}
			// Attribute calls (x.f()) resolve through the receiver; skip.
			if idx := strings.Index(stripped, name); idx > 0 && stripped[idx-1] == '.' {
				continue
			}
			reported[name] = struct{}{}
			issues = append(issues, internal.ValidationIssue{
				Line:     lineNo + 1,
				Message:  fmt.Sprintf("name %q is used but never defined or imported", name),
				Severity: sev,
			})
		}
	}
	return issues
}

func (v *Validator) unreachable(code string, sev internal.Severity) []internal.ValidationIssue {
	var issues []internal.ValidationIssue
	lines := strings.Split(code, "\n")

	termIndent := -1
	for lineNo, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		ind := indentOf(line)

		if termIndent >= 0 {
			if ind >= termIndent {
				issues = append(issues, internal.ValidationIssue{
					Line:     lineNo + 1,
					Message:  "statement is unreachable",
					Severity: sev,
				})
			}
			termIndent = -1
			continue
		}

		first := strings.FieldsFunc(trimmed, func(r rune) bool { return r == ' ' || r == '(' })
		if len(first) > 0 {
			switch first[0] {
			case "return", "raise", "break", "continue", "throw":
				termIndent = ind
			}
		}
	}
	return issues
}

func (v *Validator) unusedImports(code string, imported map[string]struct{}, sev internal.Severity) []internal.ValidationIssue {
	var issues []internal.ValidationIssue
	lines := strings.Split(code, "\n")

	for name := range imported {
		used := false
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if resolver.NormalizeImport(trimmed) != nil {
				continue
			}
			if containsIdent(trimmed, name) {
				used = true
				break
			}
		}
		if !used {
			issues = append(issues, internal.ValidationIssue{
				Line:     0,
				Message:  fmt.Sprintf("import %q is never used", name),
				Severity: sev,
			})
		}
	}
	return issues
}

// importedNames maps canonical import statements to the names they bind:
// the alias if present, the imported symbol for from-imports, otherwise the
// module root.
func importedNames(imports map[string]struct{}) map[string]struct{} {
	names := make(map[string]struct{})
	for imp := range imports {
		fields := strings.Fields(imp)
		switch {
		case len(fields) >= 4 && fields[0] == "from":
			// from M import N [as A]
			if len(fields) >= 6 && fields[4] == "as" {
				names[fields[5]] = struct{}{}
			} else {
				names[fields[3]] = struct{}{}
			}
		case len(fields) >= 4 && fields[2] == "as":
			names[fields[3]] = struct{}{}
		case len(fields) >= 2:
			root := fields[1]
			if i := strings.IndexAny(root, "./"); i > 0 {
				root = root[:i]
			}
			names[root] = struct{}{}
		}
	}
	return names
}

// stripStrings blanks out string literal contents so delimiters inside
// strings are not counted. The second return value is false when a quote is
// left open at end of line (triple-quoted strings are not tracked across
// lines; the parser keeps those inside single blocks).
func stripStrings(line string) (string, bool) {
	var b strings.Builder
	var quote rune
	escaped := false

	for _, r := range line {
		switch {
		case escaped:
			escaped = false
			b.WriteByte(' ')
		case quote != 0 && r == '\\':
			escaped = true
			b.WriteByte(' ')
		case quote != 0 && r == quote:
			quote = 0
			b.WriteRune(r)
		case quote != 0:
			b.WriteByte(' ')
		case r == '"' || r == '\'':
			quote = r
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}

	// A triple quote opener leaves an odd count; treat a line containing an
	// even number of the quote rune as terminated.
	if quote != 0 && strings.Count(line, string(quote))%2 == 0 {
		return b.String(), true
	}
	return b.String(), quote == 0
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, "#"); i >= 0 {
		return line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i]
	}
	return line
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// containsIdent reports whether name occurs in s as a whole identifier.
func containsIdent(s, name string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], name)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isIdentRune(rune(s[i-1]))
		afterIdx := i + len(name)
		after := afterIdx >= len(s) || !isIdentRune(rune(s[afterIdx]))
		if before && after {
			return true
		}
		idx = i + len(name)
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
