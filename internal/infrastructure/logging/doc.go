// Package logging provides structured logging built on log/slog.
//
// It wraps slog.Logger with configuration-driven handler selection (JSON or
// text), level filtering, and service/version default fields. Components
// receive a *Logger (or a package-local Logger interface where they need to
// stay decoupled) and add their own context via With().
package logging
