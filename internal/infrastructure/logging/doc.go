// Package logging provides structured logging built on log/slog.
//
// A single Logger is created at startup from the logging section of
// config.yaml and handed down to every component. Components that should
// not depend on this package accept a minimal Logger interface instead
// (Debug/Info/Warn/Error with key-value pairs), which *logging.Logger
// satisfies.
package logging
