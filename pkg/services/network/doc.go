/*
Package network implements the client-facing gRPC service of the relay
(networks.networks.Network).

Clients submit data-sharing queries, event subscriptions and asset-transfer
requests here, receive an immediate ack carrying a fresh request id, and
poll the same surface for results. Every downstream interaction — with the
remote relay or the local driver — runs in a spawned task that reports back
only through the local store, so a poll observes exactly the state machine
of the stored record.
*/
package network
