// Package log provides the relay's structured logging on zerolog.
//
// A single process logger is configured via Init and consumed through
// scoped constructors: WithComponent for a service's logger, ForRequest and
// ForSession to bind the correlation ids that tie log lines to store
// records and asset-transfer sessions. Background tasks never return
// errors to callers; these scoped loggers are where their outcomes land.
package log
