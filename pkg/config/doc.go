// Package config loads the relay's YAML configuration and exposes it through
// a reader/writer-locked Resolver.
//
// The configuration maps network ids to driver endpoints and relay names to
// peer endpoints, and carries the paths of the two stores each relay owns.
// It is loaded once at startup; Reload exists for operator-driven refresh
// but nothing in the relay requires hot reload.
package config
