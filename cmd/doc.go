// Package cmd implements the command-line interface for switchboard.
//
// This package provides the following commands:
//   - serve: Start the gateway (HTTP routes, websocket endpoint, metrics)
//   - version: Display version information
//
// The serve command is the default command when no subcommand is
// specified.
package cmd
