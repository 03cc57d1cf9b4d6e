package interfaces

// DataStoreStatus describes the availability of a persistent data store.
type DataStoreStatus struct {
	// Available is true if the store is believed to be working.
	Available bool
	// NeedsRefresh is true if the store may be out of date due to an outage while updates were
	// arriving, so the data system should rewrite its current data to the store. It is only set
	// on a transition from unavailable back to available.
	NeedsRefresh bool
}

// BigSegmentStoreStatus describes the availability and freshness of a big segment store.
type BigSegmentStoreStatus struct {
	// Available is true if the store is responding to queries.
	Available bool
	// Stale is true if the store has not been updated within the configured staleness threshold.
	Stale bool
}
