package storage

// Store is a key/value store over an embedded ordered KV tree.
//
// Keys are partitioned by prefix: a bare request id maps to a RequestState
// (local store) or Query (remote store); EventSubscriptionKey and
// EventPublicationKey derive the event keyspaces; SessionKey derives the
// asset-transfer session keyspace. Values are opaque bytes at this level;
// the codec helpers in this package are the single source of schema truth.
type Store interface {
	// Put overwrites the value at key. Atomic at single-key granularity.
	Put(key string, value []byte) error

	// Get returns the value at key. A miss is a NotFound error.
	Get(key string) ([]byte, error)

	// Unset removes the value at key and returns the prior value. A miss
	// is a NotFound error.
	Unset(key string) ([]byte, error)

	// Has reports whether key is present.
	Has(key string) (bool, error)

	// ScanPrefix visits every key with the given prefix in key order.
	// Returning an error from fn aborts the scan.
	ScanPrefix(prefix string, fn func(key string, value []byte) error) error

	// Close releases the underlying database.
	Close() error
}

// EventSubscriptionKey derives the store key of an event subscription record.
func EventSubscriptionKey(requestID string) string {
	return "event_sub_" + requestID
}

// EventPublicationKey derives the store key of the received-event list.
func EventPublicationKey(requestID string) string {
	return "event_pub_" + requestID
}

// SessionKey derives the store key of an asset-transfer session record.
func SessionKey(sessionID string) string {
	return "satp_" + sessionID
}
