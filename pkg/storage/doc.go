/*
Package storage provides BoltDB-backed persistence for the relay's request,
subscription, event and session records.

Each relay owns two stores with identical layout: a local store for requests
it originated and a remote store for requests peers sent it. Peer relays
never share storage; they exchange state over RPC only.

Every store is a single BoltDB file with one bucket holding a prefixed
keyspace:

	<request-id>              RequestState (local) / Query (remote)
	event_sub_<request-id>    EventSubscriptionState (local) / EventSubscription (remote)
	event_pub_<request-id>    EventStates
	satp_<session-id>         asset-transfer session record

Values are deterministic protobuf encodings of the corresponding message
types, except under satp_, where session and proposal records are JSON.
Every write touches one key in its own transaction. Paths that update two
records (folding a duplicate subscription into its canonical record,
unsubscribing a duplicate, opening an asset-transfer session) issue two
separate writes, so single-key atomicity from BoltDB's transactions is the
only guarantee the relay relies on.
*/
package storage
