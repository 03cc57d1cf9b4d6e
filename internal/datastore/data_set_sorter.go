package datastore

import (
	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
	"github.com/launchdarkly/go-server-sdk-core/internal/datakinds"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// SortCollectionsForDataStoreInit arranges a full data set in dependency-safe write order for
// persistent stores that are not atomic across items: segments before flags, and flags ordered
// so that any flag appears after the flags it references as prerequisites. A reader that sees
// a partially written data set then never sees an item whose dependencies are missing.
//
// Cyclic prerequisite chains cannot be fully ordered; the walk carries a visited set so they
// are emitted in an arbitrary stable order instead of recursing forever.
func SortCollectionsForDataStoreInit(allData []ldstoretypes.Collection) []ldstoretypes.Collection {
	collections := make([]ldstoretypes.Collection, 0, len(allData))

	// kind order: everything that is not a flag first, flags last
	for _, coll := range allData {
		if coll.Kind != datakinds.Features {
			collections = append(collections, coll)
		}
	}
	for _, coll := range allData {
		if coll.Kind == datakinds.Features {
			collections = append(collections, ldstoretypes.Collection{
				Kind:  coll.Kind,
				Items: sortItemsByDependency(coll.Items),
			})
		}
	}
	return collections
}

func sortItemsByDependency(items []ldstoretypes.KeyedItemDescriptor) []ldstoretypes.KeyedItemDescriptor {
	itemsByKey := make(map[string]ldstoretypes.KeyedItemDescriptor, len(items))
	for _, item := range items {
		itemsByKey[item.Key] = item
	}

	ordered := make([]ldstoretypes.KeyedItemDescriptor, 0, len(items))
	visited := make(map[string]struct{}, len(items))

	var addWithDependenciesFirst func(item ldstoretypes.KeyedItemDescriptor)
	addWithDependenciesFirst = func(item ldstoretypes.KeyedItemDescriptor) {
		if _, seen := visited[item.Key]; seen {
			return
		}
		visited[item.Key] = struct{}{}
		if flag, ok := item.Item.Item.(*ldmodel.FeatureFlag); ok {
			for _, p := range flag.Prerequisites {
				if prereqItem, found := itemsByKey[p.Key]; found {
					addWithDependenciesFirst(prereqItem)
				}
			}
		}
		ordered = append(ordered, item)
	}

	for _, item := range items {
		addWithDependenciesFirst(item)
	}
	return ordered
}
