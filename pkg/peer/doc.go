// Package peer is the outbound client to remote relays.
//
// It speaks the four peer protocols (DataTransfer, EventSubscribe,
// EventPublish, SATP) over mutually authenticated gRPC with the same TLS
// rules as the driver client.
package peer
