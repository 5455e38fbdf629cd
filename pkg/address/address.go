package address

import (
	"strings"

	"github.com/cuemby/relay/pkg/relayerr"
)

// Location is the relay endpoint segment of an address.
type Location struct {
	Hostname string
	Port     string
}

// Address is a fully parsed view address of the form
// {relay-host:port}/{network-id}/{view-query}. The view query may itself
// contain further "/" separators.
type Address struct {
	Location  Location
	NetworkID string
	ViewQuery string
}

// Parse splits a view address into its three segments.
func Parse(s string) (Address, error) {
	segments := strings.SplitN(s, "/", 3)
	if len(segments) != 3 {
		return Address{}, relayerr.Newf(relayerr.Malformed, "address %q must have the form host:port/network-id/view-query", s)
	}
	loc, err := ParseLocation(segments[0])
	if err != nil {
		return Address{}, err
	}
	if segments[1] == "" {
		return Address{}, relayerr.Newf(relayerr.Malformed, "address %q has an empty network id", s)
	}
	if segments[2] == "" {
		return Address{}, relayerr.Newf(relayerr.Malformed, "address %q has an empty view query", s)
	}
	return Address{
		Location:  loc,
		NetworkID: segments[1],
		ViewQuery: segments[2],
	}, nil
}

// ParseLocation parses the host:port prefix of an address.
func ParseLocation(s string) (Location, error) {
	host, port, found := strings.Cut(s, ":")
	if !found || host == "" || port == "" {
		return Location{}, relayerr.Newf(relayerr.Malformed, "location %q must have the form host:port", s)
	}
	if strings.ContainsAny(port, ":/") {
		return Location{}, relayerr.Newf(relayerr.Malformed, "location %q has a malformed port", s)
	}
	return Location{Hostname: host, Port: port}, nil
}
