/*
Package eventpublish implements the peer-facing event delivery protocol
(relay.events.EventPublish).

On the source relay, driver-emitted payloads are forwarded to the relay
that owns the matching subscription. On the subscribing relay, each payload
is recorded under the subscription's received-event list and fanned out to
every publication spec: HTTP POST for app URLs, a driver external-state
write for contract targets, with per-target outcomes written back to the
event entry.
*/
package eventpublish
