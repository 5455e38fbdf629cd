/*
Package datatransfer implements the peer-facing data-sharing protocol
(relay.datatransfer.DataTransfer).

A query travels origin relay -> remote relay -> driver; the view travels
driver -> remote relay -> origin relay, where it lands in the local store
for the polling client. Driver failures are re-expressed as error payloads
on the same return path so the origin relay always reaches a terminal state.
*/
package datatransfer
