/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/pseudotran/internal"
	"github.com/valpere/pseudotran/internal/offload"
	"github.com/valpere/pseudotran/internal/orchestrator"
	"github.com/valpere/pseudotran/internal/store"
	"github.com/valpere/pseudotran/internal/streaming"
)

var (
	inputFile  string
	outputFile string
	configFile string
	verbose    bool

	ollamaURL       string
	ollamaModel     string
	openrouterKey   string
	openrouterModel string

	dbPath  string
	noCache bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate pseudocode into source code",
	Long: `Translate a pseudocode file into target-language source code.

Natural-language blocks are sent to the selected model; code blocks pass
through verbatim. The assembled output is statically validated and, when
invalid, repaired through a bounded fix loop.

Large inputs stream: with --stream the file is processed chunk by chunk
with bounded concurrency and results are written in order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile && outputFile != "" {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		text := string(raw)

		log, err := newLogger(verbose)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var db *store.Store
		if !noCache && dbPath != "" {
			db, err = store.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			if cached, found, cacheErr := db.GetCached(ctx, text, opts.TargetLanguage, opts.ModelName); cacheErr == nil && found {
				pterm.Info.Println("Using cached translation")
				return writeOutput(outputFile, cached)
			}
		}

		reg, err := buildRegistry(log, ollamaURL, ollamaModel, openrouterKey, openrouterModel)
		if err != nil {
			return err
		}
		defer reg.Close()

		pool := offload.New(opts, log)
		defer pool.Close()

		orch := orchestrator.New(reg, pool, log)

		bar, _ := pterm.DefaultProgressbar.WithTotal(100).WithTitle("translating").Start()
		orch.Subscribe(internal.SinkFunc(func(e internal.Event) {
			switch e.Kind {
			case internal.EventProgress:
				if delta := e.Progress - bar.Current; delta > 0 {
					bar.Add(delta)
				}
			case internal.EventStatus:
				if e.Message != "" {
					bar.UpdateTitle(e.Message)
				}
			case internal.EventStreamChunkDone:
				pterm.Debug.Printfln("chunk %d done", e.ChunkIndex)
			}
		}))

		var code string
		var warnings, suggestions []string

		if opts.EnableStreaming && streaming.ShouldStream(text, opts) {
			results, err := orch.TranslateStreaming(ctx, text, opts)
			if err != nil {
				return err
			}
			var parts []string
			failed := 0
			for res := range results {
				if res.Cancelled {
					bar.Stop() //nolint:errcheck
					return fmt.Errorf("translation cancelled")
				}
				if !res.Success {
					failed++
				}
				parts = append(parts, res.Code)
				warnings = append(warnings, res.Warnings...)
				suggestions = append(suggestions, res.Suggestions...)
			}
			code = strings.Join(parts, "\n")
			if failed > 0 {
				pterm.Warning.Printfln("%d chunk(s) failed; output contains placeholders", failed)
			}
		} else {
			res, err := orch.Translate(ctx, text, opts)
			if err != nil {
				return err
			}
			if res.Cancelled {
				bar.Stop() //nolint:errcheck
				return fmt.Errorf("translation cancelled")
			}
			if !res.Success {
				bar.Stop() //nolint:errcheck
				for _, e := range res.Errors {
					pterm.Error.Println(e)
				}
				return fmt.Errorf("translation failed")
			}
			code = res.Code
			warnings = res.Warnings
			suggestions = res.Suggestions
		}
		bar.Stop() //nolint:errcheck

		for _, w := range warnings {
			pterm.Warning.Println(w)
		}
		for _, s := range suggestions {
			pterm.Info.Println(s)
		}

		if db != nil {
			if err := db.SaveToMemory(ctx, text, opts.TargetLanguage, opts.ModelName, code); err != nil {
				log.Warnw("failed to update translation memory", "error", err)
			}
		}

		if err := writeOutput(outputFile, code); err != nil {
			return err
		}
		pterm.Success.Printfln("Translated %s to %s", inputFile, opts.TargetLanguage)
		return nil
	},
}

// loadOptions merges flags, environment, and the optional config file into
// the pipeline options. Flags win over the file; both win over defaults.
func loadOptions(cmd *cobra.Command) (internal.Options, error) {
	v := viper.New()
	v.SetEnvPrefix("PSEUDOTRAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return internal.Options{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	flagToKey := map[string]string{
		"model":                 "model",
		"target-lang":           "target_language",
		"temperature":           "temperature",
		"max-tokens":            "max_tokens",
		"validation-level":      "validation_level",
		"timeout":               "timeout_seconds",
		"whole-document":        "prefer_whole_document",
		"fix-attempts":          "max_fix_attempts",
		"stream":                "enable_streaming",
		"stream-threshold":      "stream_threshold",
		"chunk-size":            "chunk_size",
		"min-chunk-size":        "min_chunk_size",
		"max-chunk-size":        "max_chunk_size",
		"overlap":               "overlap_size",
		"adaptive-chunking":     "adaptive_chunking",
		"max-concurrent-chunks": "max_concurrent_chunks",
		"process-pool":          "process_pool",
		"pool-size":             "pool_size",
	}
	for flag, key := range flagToKey {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return internal.Options{}, err
		}
	}

	var opts internal.Options
	if err := v.Unmarshal(&opts); err != nil {
		return internal.Options{}, fmt.Errorf("failed to decode options: %w", err)
	}
	return opts, nil
}

func writeOutput(path, code string) error {
	if path == "" || path == "-" {
		fmt.Println(code)
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input pseudocode file (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	translateCmd.Flags().StringVar(&configFile, "config", "", "Config file (yaml/toml/json)")
	translateCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	translateCmd.Flags().String("model", "echo", "Model backend: ollama, openrouter, echo")
	translateCmd.Flags().String("target-lang", "python", "Target language for generated code")
	translateCmd.Flags().Float64("temperature", 0, "Sampling temperature")
	translateCmd.Flags().Int("max-tokens", 0, "Maximum tokens per model call")
	translateCmd.Flags().String("validation-level", "normal", "Validation level: strict, normal, lenient")
	translateCmd.Flags().Int("timeout", internal.DefaultTimeoutSeconds, "Per-call timeout in seconds")
	translateCmd.Flags().Bool("whole-document", false, "Prefer one whole-document model call when it fits")
	translateCmd.Flags().Int("fix-attempts", internal.DefaultMaxFixAttempts, "Maximum automatic repair attempts")

	translateCmd.Flags().Bool("stream", false, "Stream large inputs chunk by chunk")
	translateCmd.Flags().Int("stream-threshold", internal.DefaultStreamThreshold, "Input size that triggers streaming")
	translateCmd.Flags().Int("chunk-size", internal.DefaultChunkSize, "Target chunk size in bytes")
	translateCmd.Flags().Int("min-chunk-size", internal.DefaultMinChunkSize, "Minimum chunk size in bytes")
	translateCmd.Flags().Int("max-chunk-size", internal.DefaultMaxChunkSize, "Maximum chunk size in bytes")
	translateCmd.Flags().Int("overlap", internal.DefaultOverlapSize, "Context overlap between chunks in bytes")
	translateCmd.Flags().Bool("adaptive-chunking", false, "Adapt chunk size to measured latency")
	translateCmd.Flags().Int("max-concurrent-chunks", internal.DefaultMaxConcurrentChunks, "Chunks in flight at once")

	translateCmd.Flags().Bool("process-pool", false, "Offload parsing/validation to a worker pool")
	translateCmd.Flags().Int("pool-size", internal.DefaultPoolSize, "Worker pool size")

	translateCmd.Flags().StringVar(&ollamaURL, "ollama-url", "", "Ollama base URL")
	translateCmd.Flags().StringVar(&ollamaModel, "ollama-model", "", "Ollama model name")
	translateCmd.Flags().StringVar(&openrouterKey, "openrouter-key", "", "OpenRouter API key")
	translateCmd.Flags().StringVar(&openrouterModel, "openrouter-model", "", "OpenRouter model name")

	translateCmd.Flags().StringVar(&dbPath, "db", "./data/pseudotran.db", "Translation memory database path")
	translateCmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the translation memory")

	translateCmd.MarkFlagRequired("input") //nolint:errcheck
}
