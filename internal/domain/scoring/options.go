package scoring

import "time"

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock replaces the time source used to stamp results.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithFormulaVersion overrides the version tag stamped on results.
func WithFormulaVersion(version string) Option {
	return func(e *Engine) {
		if version != "" {
			e.version = version
		}
	}
}
