// Package api wires the relay's service implementations onto a gRPC server.
package api
