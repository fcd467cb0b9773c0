package orchestrator_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/pseudotran/internal"
	"github.com/valpere/pseudotran/internal/model"
	"github.com/valpere/pseudotran/internal/orchestrator"
)

// scriptedBackend answers prompts through a script function.
type scriptedBackend struct {
	mu      sync.Mutex
	respond func(call int, prompt string) (string, error)
	n       int
}

func (b *scriptedBackend) Generate(ctx context.Context, prompt string, _ model.SamplingParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	call := b.n
	b.n++
	b.mu.Unlock()
	return b.respond(call, prompt)
}

func (b *scriptedBackend) Close() error { return nil }

func newTestRegistry(t *testing.T, scripted *scriptedBackend) *model.Registry {
	t.Helper()
	reg := model.NewRegistry(nil)
	require.NoError(t, reg.Register(model.Descriptor{
		Name:         "echo",
		Format:       "builtin",
		Capabilities: model.Capabilities{MaxContextLength: 1 << 20},
	}, model.EchoFactory))
	if scripted != nil {
		require.NoError(t, reg.Register(model.Descriptor{
			Name:         "scripted",
			Format:       "test",
			Capabilities: model.Capabilities{MaxContextLength: 4096},
		}, func(string, map[string]string) (model.Backend, error) { return scripted, nil }))
	}
	return reg
}

func baseOpts(modelName string) internal.Options {
	return internal.Options{
		ModelName:       modelName,
		TargetLanguage:  "python",
		ValidationLevel: "normal",
		TimeoutSeconds:  30,
		MaxFixAttempts:  2,
	}
}

func TestTranslate_SingleInstruction(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	res, err := orch.Translate(context.Background(), "add two numbers", baseOpts("echo"))
	require.NoError(t, err)

	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.Contains(t, res.Code, "def add_two_numbers():")
	assert.GreaterOrEqual(t, strings.Count(res.Code, "\n"), 2)
	assert.Equal(t, "structured", res.Metadata["strategy"])
	assert.Positive(t, res.Latency)
}

func TestTranslate_PureCodeNeedsNoModelCalls(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	h, err := reg.Load("echo", "", nil)
	require.NoError(t, err)

	input := "def add(a, b):\n    return a + b"
	res, err := orch.Translate(context.Background(), input, baseOpts("echo"))
	require.NoError(t, err)

	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, strings.Fields(input), strings.Fields(res.Code), "code must pass through verbatim")
	assert.Zero(t, h.Calls(), "pure code must cost zero model calls")
}

func TestTranslate_EmptyInput(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	res, err := orch.Translate(context.Background(), "", baseOpts("echo"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Code)
}

func TestTranslate_MixedDocumentWithTimeout(t *testing.T) {
	scripted := &scriptedBackend{respond: func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "flaky") {
			return "", context.DeadlineExceeded
		}
		return "def compute_sum():\n    return 1", nil
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	input := "Compute the sum of the values in the list and return it.\n" +
		"x = 1\n" +
		"Do the flaky thing with the network and retry."

	res, err := orch.Translate(context.Background(), input, baseOpts("scripted"))
	require.NoError(t, err)

	assert.True(t, res.Success, "one failed block must not fail the document: %v", res.Errors)
	assert.Contains(t, res.Code, "def compute_sum():")
	assert.Contains(t, res.Code, "x = 1")
	assert.Contains(t, res.Code, "# [untranslated lines 3-3] model call timed out")

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "lines 3-3") {
			found = true
		}
	}
	assert.True(t, found, "warnings must name the failed span: %v", res.Warnings)
}

func TestTranslate_AllBlocksFailedFailsDocument(t *testing.T) {
	scripted := &scriptedBackend{respond: func(int, string) (string, error) {
		return "", errors.New("backend down")
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	res, err := orch.Translate(context.Background(),
		"Read the values from the file and compute the average of them all.",
		baseOpts("scripted"))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}

func TestTranslate_ConfigErrorIsSynchronous(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	opts := baseOpts("echo")
	opts.MinChunkSize = 1000
	opts.MaxChunkSize = 100

	_, err := orch.Translate(context.Background(), "x = 1", opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, internal.ErrConfiguration))
}

func TestTranslate_UnknownModelFailsInResult(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	res, err := orch.Translate(context.Background(), "x = 1", baseOpts("ghost"))
	require.NoError(t, err, "model errors are reported in the result, not returned")
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "ghost")
}

func TestTranslate_Idempotent(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	input := "add two numbers\n\nprint the result to the console for the user"
	first, err := orch.Translate(context.Background(), input, baseOpts("echo"))
	require.NoError(t, err)
	second, err := orch.Translate(context.Background(), input, baseOpts("echo"))
	require.NoError(t, err)

	assert.Equal(t, first.Code, second.Code, "same input and model must yield identical output")
	assert.Equal(t, first.Success, second.Success)
}

func TestTranslate_ImportMerging(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	input := "import os\nimport sys\ndef a():\n    pass\n\nimport  os\ndef b():\n    pass"
	res, err := orch.Translate(context.Background(), input, baseOpts("echo"))
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)

	assert.Equal(t, 1, strings.Count(res.Code, "import os"), "duplicate imports must merge")
	assert.Equal(t, 1, strings.Count(res.Code, "import sys"))
	assert.Less(t, strings.Index(res.Code, "import os"), strings.Index(res.Code, "def a"),
		"imports must be hoisted above the code")
}

func TestTranslate_FixLoopIsBounded(t *testing.T) {
	scripted := &scriptedBackend{respond: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "validation errors") {
			// Each repair returns different, still-broken code.
			return fmt.Sprintf("def broken_%d(:\n    pass", call), nil
		}
		return "def broken_0(:\n    pass", nil
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	h, err := reg.Load("scripted", "", nil)
	require.NoError(t, err)

	opts := baseOpts("scripted")
	opts.MaxFixAttempts = 2

	res, err := orch.Translate(context.Background(),
		"Make the thing that is broken and never gets any better.", opts)
	require.NoError(t, err)

	assert.False(t, res.Success, "unfixable code must surface as failure")
	assert.Equal(t, int64(1+2), h.Calls(), "one translation call plus max_fix_attempts repair calls")
}

func TestTranslate_FixLoopStopsWhenFixed(t *testing.T) {
	scripted := &scriptedBackend{respond: func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "validation errors") {
			return "def fixed():\n    pass", nil
		}
		return "def broken(:\n    pass", nil
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	h, err := reg.Load("scripted", "", nil)
	require.NoError(t, err)

	opts := baseOpts("scripted")
	opts.MaxFixAttempts = 3

	res, err := orch.Translate(context.Background(),
		"Make the thing that is broken at first but fixable after.", opts)
	require.NoError(t, err)

	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.Contains(t, res.Code, "def fixed():")
	assert.Equal(t, int64(2), h.Calls(), "loop must stop once validation passes")
}

func TestTranslate_SuggestionsSurfaceInResult(t *testing.T) {
	long := "x = \"" + strings.Repeat("a", 120) + "\""
	scripted := &scriptedBackend{respond: func(int, string) (string, error) {
		return long, nil
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	res, err := orch.Translate(context.Background(),
		"Store the long banner text in the variable for the page.", baseOpts("scripted"))
	require.NoError(t, err)

	assert.True(t, res.Success, "errors: %v", res.Errors)
	require.NotEmpty(t, res.Suggestions, "valid but improvable code must carry suggestions")
	assert.Contains(t, res.Suggestions[0], "exceed")
}

func TestTranslate_WholeDocumentStrategy(t *testing.T) {
	scripted := &scriptedBackend{respond: func(_ int, prompt string) (string, error) {
		return "def whole():\n    pass", nil
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	h, err := reg.Load("scripted", "", nil)
	require.NoError(t, err)

	opts := baseOpts("scripted")
	opts.PreferWholeDocument = true

	input := "add two numbers\n\nprint the result to the console for the user"
	res, err := orch.Translate(context.Background(), input, opts)
	require.NoError(t, err)

	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "model-first", res.Metadata["strategy"])
	assert.Equal(t, int64(1), h.Calls(), "whole-document mode makes exactly one call")
}

func TestTranslate_WholeDocumentFallsBackWhenTooLarge(t *testing.T) {
	scripted := &scriptedBackend{respond: func(_ int, prompt string) (string, error) {
		return "x = 1", nil
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	opts := baseOpts("scripted")
	opts.PreferWholeDocument = true

	// Larger than the scripted model's 4096-token window allows.
	input := strings.Repeat("do one of the many things from the long list of tasks\n", 400)
	res, err := orch.Translate(context.Background(), input, opts)
	require.NoError(t, err)
	assert.Equal(t, "structured", res.Metadata["strategy"])
}

func TestTranslate_Cancellation(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := orch.Translate(ctx, "add two numbers", baseOpts("echo"))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.False(t, res.Success)
}

func TestTranslate_Events(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	var mu sync.Mutex
	var events []internal.Event
	orch.Subscribe(internal.SinkFunc(func(e internal.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	res, err := orch.Translate(context.Background(), "add two numbers", baseOpts("echo"))
	require.NoError(t, err)
	require.True(t, res.Success)

	require.NotEmpty(t, events)
	assert.Equal(t, internal.EventStarted, events[0].Kind)
	assert.Equal(t, internal.EventCompleted, events[len(events)-1].Kind)

	id := events[0].RequestID
	assert.NotEmpty(t, id)
	for _, e := range events {
		assert.Equal(t, id, e.RequestID, "all events of one invocation share its request id")
	}

	last := 0
	for _, e := range events {
		if e.Kind != internal.EventProgress {
			continue
		}
		assert.GreaterOrEqual(t, e.Progress, last, "progress must be monotonic")
		last = e.Progress
	}
}

func TestTranslateStreaming_OrderedChunksMatchBaseline(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "# section %02d\nval_%02d = %d\n", i, i, i)
	}
	input := sb.String()

	opts := baseOpts("echo")
	opts.EnableStreaming = true
	opts.StreamThreshold = 32
	opts.ChunkSize = 64
	opts.MinChunkSize = 16
	opts.MaxChunkSize = 256
	opts.OverlapSize = 16

	results, err := orch.TranslateStreaming(context.Background(), input, opts)
	require.NoError(t, err)

	var parts []string
	for res := range results {
		require.True(t, res.Success, "chunk failed: %v", res.Errors)
		parts = append(parts, res.Code)
	}
	require.GreaterOrEqual(t, len(parts), 2, "large input must produce multiple chunks")

	baseline, err := orch.Translate(context.Background(), input, baseOpts("echo"))
	require.NoError(t, err)
	require.True(t, baseline.Success)

	assert.Equal(t, strings.Fields(baseline.Code), strings.Fields(strings.Join(parts, "\n")),
		"streamed output must equal the non-streaming result modulo whitespace")
}

// The overlap snippet computed at each chunk boundary must reach the model:
// a later chunk's first prompt carries the previous chunk's tail as
// surrounding code.
func TestTranslateStreaming_BoundaryContextReachesModel(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	scripted := &scriptedBackend{respond: func(_ int, prompt string) (string, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		return "pass", nil
	}}
	reg := newTestRegistry(t, scripted)
	orch := orchestrator.New(reg, nil, nil)

	input := "# chunk marker 00\n" +
		"Compute the sum of the values and store it in the variable zebra_total.\n" +
		"# chunk marker 01\n" +
		"Print the values from the list to the console for the user to see.\n" +
		"# chunk marker 02\n" +
		"Append each of the values to the report that is sent to the printer.\n"

	opts := baseOpts("scripted")
	opts.EnableStreaming = true
	opts.StreamThreshold = 32
	opts.ChunkSize = 80
	opts.MinChunkSize = 16
	opts.MaxChunkSize = 400
	opts.OverlapSize = 40

	results, err := orch.TranslateStreaming(context.Background(), input, opts)
	require.NoError(t, err)

	chunks := 0
	for res := range results {
		require.True(t, res.Success, "chunk failed: %v", res.Errors)
		chunks++
	}
	require.GreaterOrEqual(t, chunks, 2, "input must split into multiple chunks")

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, p := range prompts {
		if strings.Contains(p, "Print the values") && strings.Contains(p, "zebra_total") {
			found = true
		}
	}
	assert.True(t, found,
		"second chunk's prompt must carry the previous chunk's tail, got prompts: %v", prompts)
}

func TestTranslateStreaming_Events(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	var mu sync.Mutex
	var chunkEvents, completed int
	orch.Subscribe(internal.SinkFunc(func(e internal.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Kind {
		case internal.EventStreamChunkDone:
			chunkEvents++
		case internal.EventStreamCompleted:
			completed++
		}
	}))

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "# part %02d\nitem_%02d = %d\n", i, i, i)
	}

	opts := baseOpts("echo")
	opts.EnableStreaming = true
	opts.StreamThreshold = 32
	opts.ChunkSize = 64
	opts.MinChunkSize = 16
	opts.MaxChunkSize = 256
	opts.OverlapSize = 16

	results, err := orch.TranslateStreaming(context.Background(), sb.String(), opts)
	require.NoError(t, err)

	chunks := 0
	for range results {
		chunks++
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, chunks, chunkEvents, "one chunk event per delivered chunk")
	assert.Equal(t, 1, completed, "exactly one stream-completed event")
}

func TestTranslateStreaming_ConfigError(t *testing.T) {
	reg := newTestRegistry(t, nil)
	orch := orchestrator.New(reg, nil, nil)

	opts := baseOpts("echo")
	opts.Temperature = 5

	_, err := orch.TranslateStreaming(context.Background(), "x = 1", opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, internal.ErrConfiguration))
}
