// Package logging provides structured logging utilities built on log/slog.
//
// It defines the canonical attribute keys used across the gateway so that
// log lines from the dispatcher, the connection registry, and the
// account-linking flow can be correlated, plus helpers for anonymizing
// user identifiers before they reach log output.
package logging
