package conversa

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Options configure a container's ambient behavior.
type Options struct {
	// Logger receives destruction-hook failures, swallowed propagation
	// errors, and restore timeouts. Defaults to slog.Default().
	Logger *slog.Logger

	// RestoreTimeout bounds how long Conversations.Restore waits for a
	// conversation that is active on another unit of work. A timeout is
	// treated like "not found". Defaults to 5s.
	RestoreTimeout time.Duration

	// OnResolved is called after every successful resolution.
	OnResolved func(key Key, instance any, duration time.Duration)

	// OnError is called when a resolution fails.
	OnError func(key Key, err error)
}

// Option configures a container at build time.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:         slog.Default(),
		RestoreTimeout: 5 * time.Second,
	}
}

// WithLogger sets the structured logger used for teardown and propagation
// diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithRestoreTimeout sets the bounded wait applied when restoring a
// conversation that is active on another unit of work.
func WithRestoreTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.RestoreTimeout = d
		}
	}
}

// WithResolutionCallbacks registers observers for resolution outcomes.
// Either callback may be nil.
func WithResolutionCallbacks(onResolved func(Key, any, time.Duration), onError func(Key, error)) Option {
	return func(o *Options) {
		o.OnResolved = onResolved
		o.OnError = onError
	}
}

// OptionsFromEnv reads container options from the environment, loading the
// given .env files first (default ".env"; a missing file is not an error).
//
// Recognized variables:
//
//	CONVERSA_RESTORE_TIMEOUT   Go duration, e.g. "2s"
//
// Example:
//
//	container, err := collection.Build(conversa.OptionsFromEnv()...)
func OptionsFromEnv(envFiles ...string) []Option {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	var opts []Option
	if v := os.Getenv("CONVERSA_RESTORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			opts = append(opts, WithRestoreTimeout(d))
		}
	}
	return opts
}
