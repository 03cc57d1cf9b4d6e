package datastore

import (
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
	"github.com/launchdarkly/go-server-sdk-core/internal/datakinds"
	"github.com/launchdarkly/go-server-sdk-core/subsystems/ldstoretypes"

	"github.com/stretchr/testify/assert"
)

func flagWithDependencies(key string, prereqKeys []string, segmentKeys []string) ldstoretypes.ItemDescriptor {
	flag := ldmodel.FeatureFlag{Key: key, Version: 1}
	for _, p := range prereqKeys {
		flag.Prerequisites = append(flag.Prerequisites, ldmodel.Prerequisite{Key: p})
	}
	for _, s := range segmentKeys {
		flag.Rules = append(flag.Rules, ldmodel.FlagRule{
			Clauses: []ldmodel.Clause{{
				Op:     ldmodel.OperatorSegmentMatch,
				Values: []ldvalue.Value{ldvalue.String(s)},
			}},
		})
	}
	return ldstoretypes.ItemDescriptor{Version: 1, Item: &flag}
}

func flagKey(key string) KindAndKey {
	return KindAndKey{Kind: datakinds.Features, Key: key}
}

func segKey(key string) KindAndKey {
	return KindAndKey{Kind: datakinds.Segments, Key: key}
}

func affected(d *DependencyTracker, seed KindAndKey) map[KindAndKey]struct{} {
	out := make(map[KindAndKey]struct{})
	d.AddAffectedItems(out, seed)
	return out
}

func TestChangedItemAffectsItself(t *testing.T) {
	d := NewDependencyTracker()
	assert.Equal(t,
		map[KindAndKey]struct{}{flagKey("flag1"): {}},
		affected(d, flagKey("flag1")))
}

func TestChangedPrerequisiteAffectsDependentFlagsTransitively(t *testing.T) {
	d := NewDependencyTracker()
	d.UpdateDependenciesFrom(datakinds.Features, "flagA", flagWithDependencies("flagA", []string{"flagB"}, nil))
	d.UpdateDependenciesFrom(datakinds.Features, "flagB", flagWithDependencies("flagB", []string{"flagC"}, nil))

	out := affected(d, flagKey("flagC"))
	assert.Equal(t, map[KindAndKey]struct{}{
		flagKey("flagA"): {},
		flagKey("flagB"): {},
		flagKey("flagC"): {},
	}, out)
}

func TestChangedSegmentAffectsFlagsReferencingIt(t *testing.T) {
	d := NewDependencyTracker()
	d.UpdateDependenciesFrom(datakinds.Features, "flag1", flagWithDependencies("flag1", nil, []string{"seg1"}))
	d.UpdateDependenciesFrom(datakinds.Features, "flag2", flagWithDependencies("flag2", nil, nil))

	out := affected(d, segKey("seg1"))
	assert.Equal(t, map[KindAndKey]struct{}{
		segKey("seg1"):   {},
		flagKey("flag1"): {},
	}, out)
}

func TestSegmentReferencingSegmentPropagates(t *testing.T) {
	d := NewDependencyTracker()
	segment := ldmodel.Segment{Key: "outer", Version: 1, Rules: []ldmodel.SegmentRule{
		{Clauses: []ldmodel.Clause{{
			Op:     ldmodel.OperatorSegmentMatch,
			Values: []ldvalue.Value{ldvalue.String("inner")},
		}}},
	}}
	d.UpdateDependenciesFrom(datakinds.Segments, "outer",
		ldstoretypes.ItemDescriptor{Version: 1, Item: &segment})
	d.UpdateDependenciesFrom(datakinds.Features, "flag1",
		flagWithDependencies("flag1", nil, []string{"outer"}))

	out := affected(d, segKey("inner"))
	assert.Equal(t, map[KindAndKey]struct{}{
		segKey("inner"):  {},
		segKey("outer"):  {},
		flagKey("flag1"): {},
	}, out)
}

func TestUpdatingItemReplacesItsOldEdges(t *testing.T) {
	d := NewDependencyTracker()
	d.UpdateDependenciesFrom(datakinds.Features, "flag1", flagWithDependencies("flag1", []string{"old"}, nil))
	d.UpdateDependenciesFrom(datakinds.Features, "flag1", flagWithDependencies("flag1", []string{"new"}, nil))

	assert.NotContains(t, affected(d, flagKey("old")), flagKey("flag1"))
	assert.Contains(t, affected(d, flagKey("new")), flagKey("flag1"))
}

func TestDeletedItemHasNoEdges(t *testing.T) {
	d := NewDependencyTracker()
	d.UpdateDependenciesFrom(datakinds.Features, "flag1", flagWithDependencies("flag1", []string{"flagB"}, nil))
	d.UpdateDependenciesFrom(datakinds.Features, "flag1", tombstone(2))

	assert.NotContains(t, affected(d, flagKey("flagB")), flagKey("flag1"))
}

func TestCyclicDependenciesTerminate(t *testing.T) {
	d := NewDependencyTracker()
	d.UpdateDependenciesFrom(datakinds.Features, "flagA", flagWithDependencies("flagA", []string{"flagB"}, nil))
	d.UpdateDependenciesFrom(datakinds.Features, "flagB", flagWithDependencies("flagB", []string{"flagA"}, nil))

	out := affected(d, flagKey("flagA"))
	assert.Equal(t, map[KindAndKey]struct{}{
		flagKey("flagA"): {},
		flagKey("flagB"): {},
	}, out)
}
