// Package datasystem contains the data system orchestrator: the two-tier store that the
// evaluator reads from, and the DataSystem that sequences initializers and synchronizers,
// handles transport fallback, and reports data source status.
package datasystem

import (
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
	"github.com/launchdarkly/go-server-sdk-core/internal/datakinds"
	"github.com/launchdarkly/go-server-sdk-core/internal/datastore"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// Store coordinates the in-memory store with an optional persistent store. The memory tier
// is authoritative once any data has been applied to it; until then, reads fall through to
// the persistent tier so a warm store can serve cached data during startup.
//
// Change-set application is serialized. Readers never see a partially applied change-set:
// full transfers are applied with a single atomic Init on the memory store.
type Store struct {
	memory     subsystems.DataStore
	persistent subsystems.DataStore
	mode       datastore.StoreMode

	dependencyTracker *datastore.DependencyTracker
	flagChangeEvents  *broadcasters.Broadcaster[interfaces.FlagChangeEvent]

	availability interfaces.DataAvailability
	selector     fdv2proto.Selector

	lock    sync.RWMutex
	loggers ldlog.Loggers
}

// NewStore creates a Store. persistent may be nil for memory-only operation. The flag change
// broadcaster receives an event for every flag affected by an applied change-set, including
// flags affected indirectly through prerequisites or segments.
func NewStore(
	memory subsystems.DataStore,
	persistent subsystems.DataStore,
	mode datastore.StoreMode,
	flagChangeEvents *broadcasters.Broadcaster[interfaces.FlagChangeEvent],
	loggers ldlog.Loggers,
) *Store {
	availability := interfaces.DataAvailabilityDefaults
	if persistent != nil && persistent.IsInitialized() {
		availability = interfaces.DataAvailabilityCached
	}
	return &Store{
		memory:            memory,
		persistent:        persistent,
		mode:              mode,
		dependencyTracker: datastore.NewDependencyTracker(),
		flagChangeEvents:  flagChangeEvents,
		availability:      availability,
		loggers:           loggers,
	}
}

// Get retrieves an item from the active tier.
func (s *Store) Get(kind ldstoretypes.DataKind, key string) (ldstoretypes.ItemDescriptor, error) {
	return s.activeStore().Get(kind, key)
}

// GetAll retrieves all non-deleted items of a kind from the active tier.
func (s *Store) GetAll(kind ldstoretypes.DataKind) ([]ldstoretypes.KeyedItemDescriptor, error) {
	return s.activeStore().GetAll(kind)
}

// IsInitialized returns true if the active tier has received data.
func (s *Store) IsInitialized() bool {
	return s.activeStore().IsInitialized()
}

// Availability returns the current data availability level.
func (s *Store) Availability() interfaces.DataAvailability {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.availability
}

// Selector returns the selector of the most recently applied change-set, for resuming a
// synchronizer session.
func (s *Store) Selector() fdv2proto.Selector {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.selector
}

// Close closes both tiers.
func (s *Store) Close() error {
	err := s.memory.Close()
	if s.persistent != nil {
		if perr := s.persistent.Close(); err == nil {
			err = perr
		}
	}
	return err
}

func (s *Store) activeStore() subsystems.DataStore {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.availability == interfaces.DataAvailabilityCached && s.persistent != nil && !s.memory.IsInitialized() {
		return s.persistent
	}
	return s.memory
}

// ApplyChangeSet applies a change-set to the store. persist controls whether the data is
// mirrored into a read-write persistent tier; availability is the level the data system has
// reached by obtaining this data. Returns the first store write error, which the caller
// reports as a store error without losing the data source connection.
func (s *Store) ApplyChangeSet(
	changeSet *fdv2proto.ChangeSet,
	persist bool,
	availability interfaces.DataAvailability,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	var affected map[datastore.KindAndKey]struct{}
	var err error

	switch changeSet.IntentCode() {
	case fdv2proto.IntentTransferNone:
		// nothing to apply; the server confirmed our data is current
	case fdv2proto.IntentTransferFull:
		affected, err = s.applyFull(changeSet.Changes(), persist)
	case fdv2proto.IntentTransferChanges:
		affected, err = s.applyChanges(changeSet.Changes(), persist)
	}

	if selector := changeSet.Selector(); selector.IsDefined() {
		s.selector = selector
	}
	if availability > s.availability {
		s.availability = availability
	}

	s.notifyFlagChanges(affected)
	return err
}

// applyFull replaces the entire data set, returning the keys whose effective contents
// changed relative to the previous data set.
func (s *Store) applyFull(changes []fdv2proto.Change, persist bool) (map[datastore.KindAndKey]struct{}, error) {
	oldVersions := make(map[datastore.KindAndKey]int)
	for _, kind := range datakinds.AllKinds() {
		items, _ := s.memory.GetAll(kind)
		for _, item := range items {
			oldVersions[datastore.KindAndKey{Kind: kind, Key: item.Key}] = item.Item.Version
		}
	}

	collections := makeCollections(changes)
	if err := s.memory.Init(collections); err != nil {
		return nil, err
	}

	s.dependencyTracker.Reset()
	seeds := make(map[datastore.KindAndKey]struct{})
	newKeys := make(map[datastore.KindAndKey]struct{})
	for _, change := range changes {
		target := datastore.KindAndKey{Kind: change.Kind, Key: change.Key}
		s.dependencyTracker.UpdateDependenciesFrom(change.Kind, change.Key, change.Object)
		if change.Object.Item != nil {
			newKeys[target] = struct{}{}
		}
		oldVersion, existed := oldVersions[target]
		visible := change.Object.Item != nil
		if (visible && (!existed || oldVersion != change.Object.Version)) || (!visible && existed) {
			seeds[target] = struct{}{}
		}
	}
	// items that were present before but are absent from the new data set
	for target := range oldVersions {
		if _, ok := newKeys[target]; !ok {
			seeds[target] = struct{}{}
		}
	}

	affected := expandAffected(s.dependencyTracker, seeds)

	if persist && s.canWritePersistent() {
		if err := s.persistent.Init(collections); err != nil {
			return affected, err
		}
	}
	return affected, nil
}

// applyChanges upserts a delta, returning the keys actually modified and their dependents.
func (s *Store) applyChanges(changes []fdv2proto.Change, persist bool) (map[datastore.KindAndKey]struct{}, error) {
	var firstErr error
	seeds := make(map[datastore.KindAndKey]struct{})
	for _, change := range changes {
		updated, err := s.memory.Upsert(change.Kind, change.Key, change.Object)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !updated {
			continue
		}
		s.dependencyTracker.UpdateDependenciesFrom(change.Kind, change.Key, change.Object)
		seeds[datastore.KindAndKey{Kind: change.Kind, Key: change.Key}] = struct{}{}

		if persist && s.canWritePersistent() {
			if _, err := s.persistent.Upsert(change.Kind, change.Key, change.Object); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return expandAffected(s.dependencyTracker, seeds), firstErr
}

// MarkRefreshed records that a synchronizer has confirmed the current data is fresh, even
// though it delivered no new change-set.
func (s *Store) MarkRefreshed() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.availability < interfaces.DataAvailabilityRefreshed {
		s.availability = interfaces.DataAvailabilityRefreshed
	}
}

// RefreshPersistent rewrites the persistent tier from the in-memory snapshot. The store
// status manager requests this after an outage, when the persistent store may hold stale
// data from before the connection was lost.
func (s *Store) RefreshPersistent() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.canWritePersistent() || !s.memory.IsInitialized() {
		return
	}
	collections := make([]ldstoretypes.Collection, 0, 2)
	for _, kind := range datakinds.AllKinds() {
		items, err := s.memory.GetAll(kind)
		if err != nil {
			return
		}
		collections = append(collections, ldstoretypes.Collection{Kind: kind, Items: items})
	}
	if err := s.persistent.Init(collections); err != nil {
		s.loggers.Errorf("Failed to rewrite persistent store after outage: %s", err)
		return
	}
	s.loggers.Warn("Persistent store was updated with latest data after an outage")
}

func (s *Store) canWritePersistent() bool {
	return s.persistent != nil && s.mode == datastore.StoreModeReadWrite
}

func (s *Store) notifyFlagChanges(affected map[datastore.KindAndKey]struct{}) {
	if s.flagChangeEvents == nil || !s.flagChangeEvents.HasListeners() {
		return
	}
	for target := range affected {
		if target.Kind == datakinds.Features {
			s.flagChangeEvents.Broadcast(interfaces.FlagChangeEvent{Key: target.Key})
		}
	}
}

func makeCollections(changes []fdv2proto.Change) []ldstoretypes.Collection {
	byKind := make(map[ldstoretypes.DataKind][]ldstoretypes.KeyedItemDescriptor)
	for _, change := range changes {
		byKind[change.Kind] = append(byKind[change.Kind],
			ldstoretypes.KeyedItemDescriptor{Key: change.Key, Item: change.Object})
	}
	collections := make([]ldstoretypes.Collection, 0, len(datakinds.AllKinds()))
	for _, kind := range datakinds.AllKinds() {
		collections = append(collections, ldstoretypes.Collection{Kind: kind, Items: byKind[kind]})
	}
	return collections
}

func expandAffected(
	tracker *datastore.DependencyTracker,
	seeds map[datastore.KindAndKey]struct{},
) map[datastore.KindAndKey]struct{} {
	affected := make(map[datastore.KindAndKey]struct{})
	for seed := range seeds {
		tracker.AddAffectedItems(affected, seed)
	}
	return affected
}
