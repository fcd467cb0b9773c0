package internal

import "github.com/cockroachdb/errors"

// Sentinel errors for the pipeline's failure taxonomy. Callers classify
// failures with errors.Is; wrapped causes stay attached via %w.
var (
	// ErrModelNotFound: the named model is not registered or its file is missing.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelLoad: the model file exists but could not be initialized.
	ErrModelLoad = errors.New("model load failed")

	// ErrTranslationTimeout: a model call exceeded the configured deadline.
	ErrTranslationTimeout = errors.New("translation timed out")

	// ErrConfiguration: invalid options; raised synchronously before any work.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCancelled: the invocation was cancelled by the host.
	ErrCancelled = errors.New("translation cancelled")
)

// ConfigErrorf builds a configuration error carrying the ErrConfiguration mark.
func ConfigErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}
