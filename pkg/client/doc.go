// Package client is the application-side helper for talking to a relay's
// Network service: submit a request, then poll for its terminal state.
package client
