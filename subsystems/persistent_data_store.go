package subsystems

import (
	"io"

	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// PersistentDataStore is the interface for a database integration (Redis, DynamoDB, etc.).
// The SDK core does not include any implementations; they are provided externally and wrapped
// by the data system, which handles caching, serialization, and outage monitoring.
//
// Implementations see items only in serialized form, and do not need to enforce version
// ordering beyond what their own atomicity requires; the wrapper performs version checks
// before writing.
type PersistentDataStore interface {
	io.Closer

	// Init overwrites the store's contents with the given serialized data set.
	Init(allData []ldstoretypes.SerializedCollection) error

	// Get retrieves one serialized item, or an item with a nil SerializedItem and version -1 if
	// the key is unknown.
	Get(kind ldstoretypes.DataKind, key string) (ldstoretypes.SerializedItemDescriptor, error)

	// GetAll retrieves all serialized items of a kind, including tombstones.
	GetAll(kind ldstoretypes.DataKind) ([]ldstoretypes.KeyedSerializedItemDescriptor, error)

	// Upsert adds or updates an item if the given version is newer than the stored version,
	// returning true if the update was applied.
	Upsert(kind ldstoretypes.DataKind, key string,
		item ldstoretypes.SerializedItemDescriptor) (bool, error)

	// IsInitialized returns true if the store contains a data set written by Init, possibly
	// from an earlier process.
	IsInitialized() bool

	// IsStoreAvailable performs a cheap probe of the database, used by the outage poller.
	IsStoreAvailable() bool
}
