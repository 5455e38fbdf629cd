/*
Package satp implements the asset-transfer commitment protocol between two
gateway relays (relay.satp.SATP).

A transfer runs three stages: negotiation (proposal, commence), lock, and
commit. Each gateway keeps its own session record in its local store; the
phase marker only moves forward, so replayed or out-of-order messages are
rejected without disturbing the session. Signature and hash-chain checks
are pluggable predicates; a failed check, driver error or transport error
drives the session to the terminal Failed phase. No rollback of
already-locked assets is attempted; callers reconcile out-of-band.
*/
package satp
