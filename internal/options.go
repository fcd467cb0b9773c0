package internal

import "strings"

// ValidationLevel controls how logic-check findings are reported.
type ValidationLevel string

const (
	ValidationStrict  ValidationLevel = "strict"
	ValidationNormal  ValidationLevel = "normal"
	ValidationLenient ValidationLevel = "lenient"
)

// ParseValidationLevel maps a config string to a ValidationLevel.
func ParseValidationLevel(s string) (ValidationLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return ValidationStrict, true
	case "normal", "":
		return ValidationNormal, true
	case "lenient":
		return ValidationLenient, true
	}
	return ValidationNormal, false
}

// Options is the configuration surface consumed by the pipeline. It is
// supplied by the host (CLI flags, viper config file); the core never reads
// configuration sources itself.
type Options struct {
	ModelName       string  `mapstructure:"model" json:"model"`
	TargetLanguage  string  `mapstructure:"target_language" json:"target_language"`
	Temperature     float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens" json:"max_tokens"`
	ValidationLevel string  `mapstructure:"validation_level" json:"validation_level"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds" json:"timeout_seconds"`

	// Whole-document ("model-first") translation is preferred when the
	// active model's context window fits the input.
	PreferWholeDocument bool `mapstructure:"prefer_whole_document" json:"prefer_whole_document"`

	MaxFixAttempts int `mapstructure:"max_fix_attempts" json:"max_fix_attempts"`

	EnableStreaming     bool `mapstructure:"enable_streaming" json:"enable_streaming"`
	StreamThreshold     int  `mapstructure:"stream_threshold" json:"stream_threshold"`
	ChunkSize           int  `mapstructure:"chunk_size" json:"chunk_size"`
	MinChunkSize        int  `mapstructure:"min_chunk_size" json:"min_chunk_size"`
	MaxChunkSize        int  `mapstructure:"max_chunk_size" json:"max_chunk_size"`
	OverlapSize         int  `mapstructure:"overlap_size" json:"overlap_size"`
	AdaptiveChunking    bool `mapstructure:"adaptive_chunking" json:"adaptive_chunking"`
	MaxConcurrentChunks int  `mapstructure:"max_concurrent_chunks" json:"max_concurrent_chunks"`
	BufferCeiling       int  `mapstructure:"buffer_ceiling" json:"buffer_ceiling"`

	ProcessPoolEnabled bool `mapstructure:"process_pool" json:"process_pool"`
	PoolSize           int  `mapstructure:"pool_size" json:"pool_size"`
	OffloadThreshold   int  `mapstructure:"offload_threshold" json:"offload_threshold"`
}

// Defaults for fields the host leaves zero.
const (
	DefaultTimeoutSeconds      = 120
	DefaultMaxFixAttempts      = 3
	DefaultStreamThreshold     = 32 * 1024
	DefaultChunkSize           = 4 * 1024
	DefaultMinChunkSize        = 1 * 1024
	DefaultMaxChunkSize        = 16 * 1024
	DefaultOverlapSize         = 256
	DefaultMaxConcurrentChunks = 4
	DefaultBufferCeiling       = 8 * 1024 * 1024
	DefaultPoolSize            = 2
	DefaultOffloadThreshold    = 64 * 1024
)

// WithDefaults returns a copy of o with zero-valued tunables replaced by the
// package defaults. The original is not modified.
func (o Options) WithDefaults() Options {
	if o.TargetLanguage == "" {
		o.TargetLanguage = "python"
	}
	if o.TimeoutSeconds == 0 {
		o.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if o.MaxFixAttempts == 0 {
		o.MaxFixAttempts = DefaultMaxFixAttempts
	}
	if o.ValidationLevel == "" {
		o.ValidationLevel = string(ValidationNormal)
	}
	if o.StreamThreshold == 0 {
		o.StreamThreshold = DefaultStreamThreshold
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MinChunkSize == 0 {
		o.MinChunkSize = DefaultMinChunkSize
	}
	if o.MaxChunkSize == 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.OverlapSize == 0 {
		o.OverlapSize = DefaultOverlapSize
	}
	if o.MaxConcurrentChunks == 0 {
		o.MaxConcurrentChunks = DefaultMaxConcurrentChunks
	}
	if o.BufferCeiling == 0 {
		o.BufferCeiling = DefaultBufferCeiling
	}
	if o.PoolSize == 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.OffloadThreshold == 0 {
		o.OffloadThreshold = DefaultOffloadThreshold
	}
	return o
}

// Validate checks the options for internal consistency. It is called at
// every public entry point before any work begins; a non-nil result carries
// the ErrConfiguration mark.
func (o Options) Validate() error {
	if o.ModelName == "" {
		return ConfigErrorf("model name is required")
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return ConfigErrorf("temperature %v outside [0, 2]", o.Temperature)
	}
	if o.MaxTokens < 0 {
		return ConfigErrorf("max_tokens must not be negative")
	}
	if o.TimeoutSeconds < 0 {
		return ConfigErrorf("timeout_seconds must not be negative")
	}
	if o.MaxFixAttempts < 0 {
		return ConfigErrorf("max_fix_attempts must not be negative")
	}
	if _, ok := ParseValidationLevel(o.ValidationLevel); !ok {
		return ConfigErrorf("unknown validation level %q", o.ValidationLevel)
	}
	if o.MinChunkSize < 0 || o.MaxChunkSize < 0 || o.ChunkSize < 0 {
		return ConfigErrorf("chunk sizes must not be negative")
	}
	if o.MaxChunkSize > 0 && o.MinChunkSize > 0 && o.MaxChunkSize < o.MinChunkSize {
		return ConfigErrorf("max_chunk_size %d is smaller than min_chunk_size %d", o.MaxChunkSize, o.MinChunkSize)
	}
	if o.ChunkSize > 0 && o.MinChunkSize > 0 && o.ChunkSize < o.MinChunkSize {
		return ConfigErrorf("chunk_size %d is smaller than min_chunk_size %d", o.ChunkSize, o.MinChunkSize)
	}
	if o.ChunkSize > 0 && o.MaxChunkSize > 0 && o.ChunkSize > o.MaxChunkSize {
		return ConfigErrorf("chunk_size %d exceeds max_chunk_size %d", o.ChunkSize, o.MaxChunkSize)
	}
	if o.OverlapSize < 0 {
		return ConfigErrorf("overlap_size must not be negative")
	}
	if o.ChunkSize > 0 && o.OverlapSize >= o.ChunkSize {
		return ConfigErrorf("overlap_size %d must be smaller than chunk_size %d", o.OverlapSize, o.ChunkSize)
	}
	if o.MaxConcurrentChunks < 0 {
		return ConfigErrorf("max_concurrent_chunks must not be negative")
	}
	if o.PoolSize < 0 {
		return ConfigErrorf("pool_size must not be negative")
	}
	return nil
}
