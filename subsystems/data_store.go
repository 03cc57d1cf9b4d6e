// Package subsystems defines the interfaces between the data system's components: data
// stores, persistent store implementations, big segment stores, and the initializers and
// synchronizers that feed data in from the control plane.
package subsystems

import (
	"io"

	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// DataStore is the in-process view of the flag and segment data, read by the evaluator and
// written by the data system. Implementations must be safe for concurrent use; Init must be
// atomic with respect to readers.
type DataStore interface {
	io.Closer

	// Init overwrites the entire store with the given data. After Init, the visible contents
	// are exactly the supplied data (tombstones excepted from enumeration).
	Init(allData []ldstoretypes.Collection) error

	// Get retrieves one item. It returns a descriptor with a nil Item for a deleted item, and
	// ldstoretypes.NotFound() for a key that has never existed. The error is non-nil only for
	// store faults.
	Get(kind ldstoretypes.DataKind, key string) (ldstoretypes.ItemDescriptor, error)

	// GetAll retrieves all non-deleted items of a kind.
	GetAll(kind ldstoretypes.DataKind) ([]ldstoretypes.KeyedItemDescriptor, error)

	// Upsert adds or updates an item (a descriptor with a nil Item deletes it, leaving a
	// tombstone). The update is applied only if the new version is strictly greater than the
	// current one; the returned bool is true if it was applied.
	Upsert(kind ldstoretypes.DataKind, key string, item ldstoretypes.ItemDescriptor) (bool, error)

	// IsInitialized returns true if the store has received a full data set via Init.
	IsInitialized() bool

	// IsStatusMonitoringEnabled returns true if the store can report on its own availability,
	// in which case write failures start the outage poller instead of being terminal.
	IsStatusMonitoringEnabled() bool
}
