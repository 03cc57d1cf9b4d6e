package datastore

import (
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// StoreMode determines whether the data system writes to a persistent store or only reads
// from it.
type StoreMode int

const (
	// StoreModeRead means the persistent store is maintained by some other process and this
	// one only reads it.
	StoreModeRead StoreMode = iota
	// StoreModeReadWrite means this process mirrors all data updates into the persistent store.
	StoreModeReadWrite
)

// persistentDataStoreWrapper adapts a PersistentDataStore (serialized items, no version
// enforcement) to the DataStore interface (parsed items, strict version monotonicity), and
// routes its failures through a DataStoreStatusManager.
//
// Write errors are returned to the caller as well as being reported to the status manager,
// since a failed administrative write must not be silently swallowed.
type persistentDataStoreWrapper struct {
	core          subsystems.PersistentDataStore
	mode          StoreMode
	statusManager *DataStoreStatusManager
	loggers       ldlog.Loggers
}

// NewPersistentDataStoreWrapper wraps a persistent store implementation. The broadcaster
// receives a status whenever the store transitions between available and unavailable.
func NewPersistentDataStoreWrapper(
	core subsystems.PersistentDataStore,
	mode StoreMode,
	statusPollInterval time.Duration,
	broadcaster *broadcasters.Broadcaster[interfaces.DataStoreStatus],
	loggers ldlog.Loggers,
) subsystems.DataStore {
	w := &persistentDataStoreWrapper{
		core:    core,
		mode:    mode,
		loggers: loggers,
	}
	w.statusManager = NewDataStoreStatusManager(
		true,
		core.IsStoreAvailable,
		mode == StoreModeReadWrite, // recovery must rewrite the store only if we are the writer
		statusPollInterval,
		broadcaster,
		loggers,
	)
	return w
}

func (w *persistentDataStoreWrapper) Init(allData []ldstoretypes.Collection) error {
	sorted := SortCollectionsForDataStoreInit(allData)
	serialized := make([]ldstoretypes.SerializedCollection, 0, len(sorted))
	for _, coll := range sorted {
		serializedColl := ldstoretypes.SerializedCollection{Kind: coll.Kind}
		for _, item := range coll.Items {
			serializedColl.Items = append(serializedColl.Items, ldstoretypes.KeyedSerializedItemDescriptor{
				Key:  item.Key,
				Item: serializeItem(coll.Kind, item.Item),
			})
		}
		serialized = append(serialized, serializedColl)
	}
	err := w.core.Init(serialized)
	w.processError(err)
	return err
}

func (w *persistentDataStoreWrapper) Get(
	kind ldstoretypes.DataKind,
	key string,
) (ldstoretypes.ItemDescriptor, error) {
	serializedItem, err := w.core.Get(kind, key)
	w.processError(err)
	if err != nil {
		return ldstoretypes.NotFound(), err
	}
	if serializedItem.SerializedItem == nil {
		return ldstoretypes.NotFound(), nil
	}
	if serializedItem.Deleted {
		return ldstoretypes.ItemDescriptor{Version: serializedItem.Version, Item: nil}, nil
	}
	item, deserializeErr := kind.Deserialize(serializedItem.SerializedItem)
	if deserializeErr != nil {
		return ldstoretypes.NotFound(), deserializeErr
	}
	return item, nil
}

func (w *persistentDataStoreWrapper) GetAll(
	kind ldstoretypes.DataKind,
) ([]ldstoretypes.KeyedItemDescriptor, error) {
	serializedItems, err := w.core.GetAll(kind)
	w.processError(err)
	if err != nil {
		return nil, err
	}
	ret := make([]ldstoretypes.KeyedItemDescriptor, 0, len(serializedItems))
	for _, serializedItem := range serializedItems {
		if serializedItem.Item.Deleted || serializedItem.Item.SerializedItem == nil {
			continue
		}
		item, deserializeErr := kind.Deserialize(serializedItem.Item.SerializedItem)
		if deserializeErr != nil {
			w.loggers.Errorf("Dropping malformed %s item %q from persistent store: %s",
				kind.GetName(), serializedItem.Key, deserializeErr)
			continue
		}
		if item.Item == nil {
			continue
		}
		ret = append(ret, ldstoretypes.KeyedItemDescriptor{Key: serializedItem.Key, Item: item})
	}
	return ret, nil
}

func (w *persistentDataStoreWrapper) Upsert(
	kind ldstoretypes.DataKind,
	key string,
	newItem ldstoretypes.ItemDescriptor,
) (bool, error) {
	// The core store is not trusted to enforce version order, so check first. This read-check-
	// write is not atomic across processes; persistent stores that can do an atomic
	// version-conditional write do so in their own Upsert and will simply agree with us.
	old, err := w.core.Get(kind, key)
	w.processError(err)
	if err != nil {
		return false, err
	}
	if old.SerializedItem != nil && old.Version >= newItem.Version {
		return false, nil
	}
	updated, err := w.core.Upsert(kind, key, serializeItem(kind, newItem))
	w.processError(err)
	return updated, err
}

func (w *persistentDataStoreWrapper) IsInitialized() bool {
	return w.core.IsInitialized()
}

func (w *persistentDataStoreWrapper) IsStatusMonitoringEnabled() bool {
	return true
}

func (w *persistentDataStoreWrapper) Close() error {
	w.statusManager.Close()
	return w.core.Close()
}

func (w *persistentDataStoreWrapper) processError(err error) {
	if err == nil {
		// If the store had failed previously, the poller is responsible for detecting recovery;
		// a single successful operation does not prove the outage is over.
		return
	}
	w.statusManager.UpdateAvailability(false)
}

func serializeItem(
	kind ldstoretypes.DataKind,
	item ldstoretypes.ItemDescriptor,
) ldstoretypes.SerializedItemDescriptor {
	return ldstoretypes.SerializedItemDescriptor{
		Version:        item.Version,
		Deleted:        item.Item == nil,
		SerializedItem: kind.Serialize(item),
	}
}
