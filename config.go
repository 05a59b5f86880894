package mirror

import (
	"fmt"
	"io"
	"os"
)

// Options configures a reconciliation Engine. The zero value is not
// valid; use DefaultOptions() and override fields.
type Options struct {
	// ValidateUpdates runs the external validator on every proposed
	// state before diffing it. Default true.
	ValidateUpdates bool

	// ThrowOnValidationError controls whether a validation failure
	// aborts the setState call (true) or is silently accepted (false).
	ThrowOnValidationError bool

	// Debug emits diagnostic logging to DebugWriter.
	Debug bool

	// DebugWriter receives diagnostics when Debug is set. Defaults to
	// os.Stderr.
	DebugWriter io.Writer

	// CheckStateConsistency compares state to the document's own
	// normalized snapshot after every outbound cycle and fails on
	// divergence. Expensive; default false.
	CheckStateConsistency bool

	// InferOptions governs how unknown, schema-less fields are
	// materialized.
	InferOptions InferOptions

	// Validator is the external collaborator consulted when
	// ValidateUpdates is set. A nil Validator with ValidateUpdates true
	// is treated as "always valid".
	Validator func(next State) []string

	// Tags are attached to the ChangeMeta passed to subscribers for the
	// SetState call these Options apply to.
	Tags []string
}

// DefaultOptions returns the engine's default configuration.
func DefaultOptions() Options {
	return Options{
		ValidateUpdates:        true,
		ThrowOnValidationError: true,
		DebugWriter:            os.Stderr,
	}
}

func (o *Options) normalize() {
	if o.DebugWriter == nil {
		o.DebugWriter = os.Stderr
	}
}

func (o *Options) debugf(format string, args ...any) {
	if !o.Debug {
		return
	}
	fmt.Fprintf(o.DebugWriter, format, args...)
}
