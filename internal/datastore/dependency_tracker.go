package datastore

import (
	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
	"github.com/launchdarkly/go-server-sdk-core/internal/datakinds"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"
)

// KindAndKey identifies one stored item.
type KindAndKey struct {
	Kind ldstoretypes.DataKind
	Key  string
}

// DependencyTracker maintains the dependency graph between stored items: a flag depends on its
// prerequisite flags and on any segments referenced by segmentMatch clauses in its rules; a
// segment depends on any segments referenced by its own rules. The reverse edges are what
// change propagation needs: given a changed item, which other items may now evaluate
// differently.
type DependencyTracker struct {
	dependenciesFrom map[KindAndKey]map[KindAndKey]struct{}
	dependenciesTo   map[KindAndKey]map[KindAndKey]struct{}
}

// NewDependencyTracker creates an empty DependencyTracker.
func NewDependencyTracker() *DependencyTracker {
	return &DependencyTracker{
		dependenciesFrom: make(map[KindAndKey]map[KindAndKey]struct{}),
		dependenciesTo:   make(map[KindAndKey]map[KindAndKey]struct{}),
	}
}

// UpdateDependenciesFrom refreshes the graph for one item after it has been updated or deleted
// (a deletion is an ItemDescriptor with a nil Item, which has no dependencies).
func (d *DependencyTracker) UpdateDependenciesFrom(
	kind ldstoretypes.DataKind,
	fromKey string,
	fromItem ldstoretypes.ItemDescriptor,
) {
	fromWhat := KindAndKey{Kind: kind, Key: fromKey}
	updatedDependencies := computeDependenciesFrom(kind, fromItem)

	oldDependencySet := d.dependenciesFrom[fromWhat]
	for dep := range oldDependencySet {
		if depsToThisDep := d.dependenciesTo[dep]; depsToThisDep != nil {
			delete(depsToThisDep, fromWhat)
		}
	}

	d.dependenciesFrom[fromWhat] = updatedDependencies
	for dep := range updatedDependencies {
		depsToThisDep := d.dependenciesTo[dep]
		if depsToThisDep == nil {
			depsToThisDep = make(map[KindAndKey]struct{})
			d.dependenciesTo[dep] = depsToThisDep
		}
		depsToThisDep[fromWhat] = struct{}{}
	}
}

// Reset discards all recorded edges, for use when the store is reinitialized.
func (d *DependencyTracker) Reset() {
	d.dependenciesFrom = make(map[KindAndKey]map[KindAndKey]struct{})
	d.dependenciesTo = make(map[KindAndKey]map[KindAndKey]struct{})
}

// AddAffectedItems adds to itemsOut the given item plus all items that directly or indirectly
// depend on it. Revisits are pruned by membership in itemsOut, so cycles terminate.
func (d *DependencyTracker) AddAffectedItems(itemsOut map[KindAndKey]struct{}, initialModifiedItem KindAndKey) {
	if _, seen := itemsOut[initialModifiedItem]; seen {
		return
	}
	itemsOut[initialModifiedItem] = struct{}{}
	for dep := range d.dependenciesTo[initialModifiedItem] {
		d.AddAffectedItems(itemsOut, dep)
	}
}

func computeDependenciesFrom(
	kind ldstoretypes.DataKind,
	fromItem ldstoretypes.ItemDescriptor,
) map[KindAndKey]struct{} {
	if fromItem.Item == nil {
		return nil
	}
	switch kind {
	case datakinds.Features:
		flag, ok := fromItem.Item.(*ldmodel.FeatureFlag)
		if !ok {
			return nil
		}
		ret := make(map[KindAndKey]struct{})
		for _, p := range flag.Prerequisites {
			ret[KindAndKey{Kind: datakinds.Features, Key: p.Key}] = struct{}{}
		}
		for _, rule := range flag.Rules {
			addSegmentDependencies(ret, rule.Clauses)
		}
		return ret

	case datakinds.Segments:
		segment, ok := fromItem.Item.(*ldmodel.Segment)
		if !ok {
			return nil
		}
		ret := make(map[KindAndKey]struct{})
		for _, rule := range segment.Rules {
			addSegmentDependencies(ret, rule.Clauses)
		}
		return ret
	}
	return nil
}

func addSegmentDependencies(out map[KindAndKey]struct{}, clauses []ldmodel.Clause) {
	for _, clause := range clauses {
		if clause.Op != ldmodel.OperatorSegmentMatch {
			continue
		}
		for _, value := range clause.Values {
			if key := value.StringValue(); key != "" {
				out[KindAndKey{Kind: datakinds.Segments, Key: key}] = struct{}{}
			}
		}
	}
}
