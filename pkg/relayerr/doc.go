// Package relayerr defines the relay's error taxonomy.
//
// Synchronous RPC handlers translate these kinds into protocol-level Acks;
// background tasks translate them into terminal store states. The transport
// status is reserved for transport faults.
package relayerr
