// Package datastore contains the in-memory flag data store, the dependency graph used for
// change propagation, and the wrapper that mirrors data into an optional persistent store.
package datastore

import (
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/subsystems"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// inMemoryDataStore is the default DataStore. Init atomically replaces the entire contents;
// readers see either the old data set or the new one, never a mixture.
type inMemoryDataStore struct {
	allData       map[ldstoretypes.DataKind]map[string]ldstoretypes.ItemDescriptor
	isInitialized bool
	sync.RWMutex
	loggers ldlog.Loggers
}

// NewInMemoryDataStore creates an empty in-memory store.
func NewInMemoryDataStore(loggers ldlog.Loggers) subsystems.DataStore {
	return &inMemoryDataStore{
		allData: make(map[ldstoretypes.DataKind]map[string]ldstoretypes.ItemDescriptor),
		loggers: loggers,
	}
}

func (store *inMemoryDataStore) Init(allData []ldstoretypes.Collection) error {
	store.Lock()
	defer store.Unlock()

	store.allData = make(map[ldstoretypes.DataKind]map[string]ldstoretypes.ItemDescriptor)
	for _, coll := range allData {
		items := make(map[string]ldstoretypes.ItemDescriptor, len(coll.Items))
		for _, item := range coll.Items {
			items[item.Key] = item.Item
		}
		store.allData[coll.Kind] = items
	}
	store.isInitialized = true
	return nil
}

func (store *inMemoryDataStore) Get(kind ldstoretypes.DataKind, key string) (ldstoretypes.ItemDescriptor, error) {
	store.RLock()
	defer store.RUnlock()

	if items, ok := store.allData[kind]; ok {
		if item, ok := items[key]; ok {
			return item, nil
		}
	}
	if store.loggers.IsDebugEnabled() {
		store.loggers.Debugf(`Key %s not found in "%s"`, key, kind.GetName())
	}
	return ldstoretypes.NotFound(), nil
}

func (store *inMemoryDataStore) GetAll(kind ldstoretypes.DataKind) ([]ldstoretypes.KeyedItemDescriptor, error) {
	store.RLock()
	defer store.RUnlock()

	items := store.allData[kind]
	ret := make([]ldstoretypes.KeyedItemDescriptor, 0, len(items))
	for key, item := range items {
		if item.Item != nil {
			ret = append(ret, ldstoretypes.KeyedItemDescriptor{Key: key, Item: item})
		}
	}
	return ret, nil
}

func (store *inMemoryDataStore) Upsert(
	kind ldstoretypes.DataKind,
	key string,
	newItem ldstoretypes.ItemDescriptor,
) (bool, error) {
	store.Lock()
	defer store.Unlock()

	items, ok := store.allData[kind]
	if !ok {
		items = make(map[string]ldstoretypes.ItemDescriptor)
		store.allData[kind] = items
	}
	if old, found := items[key]; found && old.Version >= newItem.Version {
		return false, nil
	}
	items[key] = newItem
	return true, nil
}

func (store *inMemoryDataStore) IsInitialized() bool {
	store.RLock()
	defer store.RUnlock()
	return store.isInitialized
}

func (store *inMemoryDataStore) IsStatusMonitoringEnabled() bool {
	return false
}

func (store *inMemoryDataStore) Close() error {
	return nil
}
