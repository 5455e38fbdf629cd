/*
Package subscription manages the relay's event subscription records.

Multiple client subscriptions sharing an (event matcher, query) pair are
collapsed onto a single upstream subscription: the first becomes canonical
(publishing_request_id equals its own request id) and later ones are folded
into it as DuplicateQuerySubscribed records whose publication specs join the
canonical record's fan-out list. The duplicate signal is the source driver's
"subscription exists" error, recognized through an injectable rule set
loaded from the driver error-constants catalog.

Status transitions are monotonic per operation: pending-ack, pending, then a
terminal state. Terminal states never regress.
*/
package subscription
