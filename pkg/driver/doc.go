// Package driver is the outbound client to the ledger drivers a relay owns.
//
// Drivers execute what the relay core cannot: view assembly, subscription
// signing, external state writes and the asset-transfer ledger side-effects.
// Every call returns the driver's ack; an Error ack surfaces as a Driver
// kind error so callers can re-express it on the protocol path.
package driver
