/*
Package eventsubscribe implements the peer-facing subscription protocol
(relay.events.EventSubscribe).

A subscription travels subscribing relay -> source relay -> driver; the
driver's ack travels back along the same chain and lands in the subscribing
relay's status table. Unsubscriptions ride the same wire with the operation
flipped, and a completed unsubscription removes the source-side record.
*/
package eventsubscribe
