// Package address parses the relay's view address format:
// {relay-host:port}/{network-id}/{view-query}.
package address
