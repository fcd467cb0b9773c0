package parser_test

import (
	"strings"
	"testing"

	"github.com/valpere/pseudotran/internal"
	"github.com/valpere/pseudotran/internal/parser"
)

// --- Parse tests ---

func TestParse_EmptyInput(t *testing.T) {
	p := parser.New(nil)
	res := p.Parse("")
	if !res.Success {
		t.Fatal("expected success for empty input")
	}
	if len(res.Blocks) != 0 {
		t.Errorf("expected no blocks, got %d", len(res.Blocks))
	}
}

func TestParse_PureCode(t *testing.T) {
	code := "def add(a, b):\n    return a + b"
	p := parser.New(nil)
	res := p.Parse(code)
	if !res.Success {
		t.Fatal("expected success")
	}
	if len(res.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d: %+v", len(res.Blocks), res.Blocks)
	}
	if res.Blocks[0].Type != internal.BlockTargetCode {
		t.Errorf("expected TargetCode, got %s", res.Blocks[0].Type)
	}
	if res.Blocks[0].Content != code {
		t.Errorf("block content should equal input:\n%q\n%q", res.Blocks[0].Content, code)
	}
}

func TestParse_PureProse(t *testing.T) {
	text := "Read the list of numbers from the file and return the total.\n" +
		"Then print the result to the console for the user."
	p := parser.New(nil)
	res := p.Parse(text)
	if len(res.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(res.Blocks))
	}
	if res.Blocks[0].Type != internal.BlockNaturalLanguage {
		t.Errorf("expected NaturalLanguage, got %s", res.Blocks[0].Type)
	}
}

func TestParse_CommentBlock(t *testing.T) {
	text := "# setup section\n# reads the config\nx = load_config()"
	p := parser.New(nil)
	res := p.Parse(text)
	if len(res.Blocks) < 2 {
		t.Fatalf("expected at least 2 blocks, got %d", len(res.Blocks))
	}
	if res.Blocks[0].Type != internal.BlockComment {
		t.Errorf("expected leading Comment block, got %s", res.Blocks[0].Type)
	}
	if res.Blocks[0].Span.StartLine != 1 || res.Blocks[0].Span.EndLine != 2 {
		t.Errorf("comment span = %+v", res.Blocks[0].Span)
	}
}

// Spans must cover every input line exactly once, in order, for any input.
func TestParse_SpanCoverage(t *testing.T) {
	inputs := []string{
		"def f():\n    return 1",
		"Compute the total of all the values in the list.\n\nx = 1\ny = 2",
		"# comment\n\nSome prose that describes what the code should do here.\nz = compute()\n",
		"one\n\n\ntwo",
		"\n\nleading blanks then prose about the program and its behavior.",
	}

	p := parser.New(nil)
	for _, input := range inputs {
		res := p.Parse(input)
		if !res.Success {
			t.Fatalf("parse failed for %q", input)
		}
		total := len(strings.Split(input, "\n"))
		next := 1
		for _, b := range res.Blocks {
			if b.Span.StartLine != next {
				t.Fatalf("gap or overlap at line %d (got start %d) for %q", next, b.Span.StartLine, input)
			}
			if b.Span.EndLine < b.Span.StartLine {
				t.Fatalf("inverted span %+v for %q", b.Span, input)
			}
			next = b.Span.EndLine + 1
		}
		if next != total+1 {
			t.Fatalf("blocks cover %d lines, input has %d (%q)", next-1, total, input)
		}
	}
}

func TestParse_UnterminatedFence(t *testing.T) {
	text := "```python\nprint(1)\nprint(2)"
	p := parser.New(nil)
	res := p.Parse(text)
	if !res.Success {
		t.Fatal("unterminated fence must not fail the parse")
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning for the unterminated construct")
	}
	if len(res.Blocks) != 1 || res.Blocks[0].Type != internal.BlockTargetCode {
		t.Errorf("expected a single TargetCode block, got %+v", res.Blocks)
	}
}

func TestParse_InvalidEncoding(t *testing.T) {
	p := parser.New(nil)
	res := p.Parse("ok line\n\xff\xfe broken")
	if res.Success {
		t.Fatal("expected failure for invalid UTF-8")
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected a parse error")
	}
	if res.Errors[0].Line != 2 {
		t.Errorf("expected error at line 2, got %d", res.Errors[0].Line)
	}
}

// --- classification tests ---

func TestClassifyLine_Code(t *testing.T) {
	for _, line := range []string{
		"def handler(req):",
		"for i in range(10):",
		"    return total",
		"    result = compute(x, y)",
	} {
		kind, _ := parser.ClassifyLine(line)
		if kind != internal.BlockTargetCode {
			t.Errorf("%q classified as %s, want target_code", line, kind)
		}
	}
}

func TestClassifyLine_Prose(t *testing.T) {
	for _, line := range []string{
		"Read the values from the file and compute the average of all of them.",
		"The result should be written to the output file when it is ready.",
	} {
		kind, _ := parser.ClassifyLine(line)
		if kind != internal.BlockNaturalLanguage {
			t.Errorf("%q classified as %s, want natural_language", line, kind)
		}
	}
}

func TestClassifyLine_Ambiguous(t *testing.T) {
	kind, _ := parser.ClassifyLine("add two numbers")
	if kind != internal.BlockMixed {
		t.Errorf("short imperative fragment should be ambiguous, got %s", kind)
	}
}

// --- SplitMixed tests ---

func TestSplitMixed_TiesGoToCode(t *testing.T) {
	b := internal.Block{
		Type:    internal.BlockMixed,
		Content: "x = 1\nadd two numbers\ny = 2",
		Span:    internal.Span{StartLine: 5, EndLine: 7},
	}

	runs := parser.SplitMixed(b)
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d: %+v", len(runs), runs)
	}
	if runs[0].Type != internal.BlockTargetCode {
		t.Errorf("run 0: got %s", runs[0].Type)
	}
	if runs[1].Type != internal.BlockNaturalLanguage {
		t.Errorf("run 1: got %s", runs[1].Type)
	}
	if runs[2].Type != internal.BlockTargetCode {
		t.Errorf("run 2: got %s", runs[2].Type)
	}

	// Spans stay in document coordinates.
	if runs[0].Span.StartLine != 5 || runs[2].Span.EndLine != 7 {
		t.Errorf("rebased spans wrong: %+v", runs)
	}
}

func TestSplitMixed_NonMixedPassthrough(t *testing.T) {
	b := internal.Block{Type: internal.BlockTargetCode, Content: "x = 1", Span: internal.Span{StartLine: 1, EndLine: 1}}
	runs := parser.SplitMixed(b)
	if len(runs) != 1 || runs[0].Type != internal.BlockTargetCode {
		t.Errorf("non-mixed block should pass through unchanged: %+v", runs)
	}
}

// Identical input always classifies identically.
func TestParse_Deterministic(t *testing.T) {
	input := "Make a function that parses the config file.\n\ndef stub():\n    pass\n"
	p := parser.New(nil)
	a := p.Parse(input)
	b := p.Parse(input)
	if len(a.Blocks) != len(b.Blocks) {
		t.Fatalf("block counts differ: %d vs %d", len(a.Blocks), len(b.Blocks))
	}
	for i := range a.Blocks {
		if a.Blocks[i].Type != b.Blocks[i].Type || a.Blocks[i].Content != b.Blocks[i].Content {
			t.Errorf("block %d differs between runs", i)
		}
	}
}
