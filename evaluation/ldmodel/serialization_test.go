package ldmodel

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flagJSON = `{
	"key": "flag-key",
	"on": true,
	"prerequisites": [{"key": "prereq-key", "variation": 1}],
	"targets": [{"values": ["user1"], "variation": 0}],
	"contextTargets": [{"contextKind": "org", "values": ["org1"], "variation": 1}],
	"rules": [
		{
			"id": "rule-id",
			"variation": 1,
			"clauses": [
				{"contextKind": "org", "attribute": "/name", "op": "in", "values": ["Catco"], "negate": true}
			],
			"trackEvents": true
		}
	],
	"fallthrough": {"rollout": {"kind": "experiment", "contextKind": "user",
		"variations": [{"variation": 0, "weight": 50000}, {"variation": 1, "weight": 50000, "untracked": true}],
		"seed": 42}},
	"offVariation": 0,
	"variations": [false, true],
	"salt": "flag-salt",
	"trackEvents": true,
	"trackEventsFallthrough": true,
	"debugEventsUntilDate": 1000,
	"version": 99,
	"deleted": false,
	"samplingRatio": 2,
	"excludeFromSummaries": true
}`

func TestFlagUnmarshal(t *testing.T) {
	var f FeatureFlag
	require.NoError(t, json.Unmarshal([]byte(flagJSON), &f))

	assert.Equal(t, "flag-key", f.Key)
	assert.True(t, f.On)
	assert.Equal(t, []Prerequisite{{Key: "prereq-key", Variation: 1}}, f.Prerequisites)

	require.Len(t, f.Targets, 1)
	assert.Equal(t, []string{"user1"}, f.Targets[0].Values)
	require.Len(t, f.ContextTargets, 1)
	assert.Equal(t, "org", string(f.ContextTargets[0].ContextKind))

	require.Len(t, f.Rules, 1)
	rule := f.Rules[0]
	assert.Equal(t, "rule-id", rule.ID)
	assert.Equal(t, ldvalue.NewOptionalInt(1), rule.Variation)
	assert.True(t, rule.TrackEvents)
	require.Len(t, rule.Clauses, 1)
	clause := rule.Clauses[0]
	assert.Equal(t, "org", string(clause.ContextKind))
	assert.Equal(t, ldattr.NewRef("/name"), clause.Attribute)
	assert.Equal(t, OperatorIn, clause.Op)
	assert.True(t, clause.Negate)

	assert.Equal(t, RolloutKindExperiment, f.Fallthrough.Rollout.Kind)
	assert.Equal(t, ldvalue.NewOptionalInt(42), f.Fallthrough.Rollout.Seed)
	require.Len(t, f.Fallthrough.Rollout.Variations, 2)
	assert.True(t, f.Fallthrough.Rollout.Variations[1].Untracked)

	assert.Equal(t, ldvalue.NewOptionalInt(0), f.OffVariation)
	assert.Equal(t, []ldvalue.Value{ldvalue.Bool(false), ldvalue.Bool(true)}, f.Variations)
	assert.Equal(t, "flag-salt", f.Salt)
	assert.Equal(t, 99, f.Version)
	assert.Equal(t, ldvalue.NewOptionalInt(2), f.SamplingRatio)
	assert.True(t, f.ExcludeFromSummaries)
}

func TestFlagMarshalUnmarshalRoundTrip(t *testing.T) {
	var f FeatureFlag
	require.NoError(t, json.Unmarshal([]byte(flagJSON), &f))

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var f2 FeatureFlag
	require.NoError(t, json.Unmarshal(data, &f2))
	assert.Equal(t, f, f2)
}

func TestFlagUnmarshalAppliesPreprocessing(t *testing.T) {
	var f FeatureFlag
	require.NoError(t, json.Unmarshal([]byte(flagJSON), &f))
	assert.True(t, TargetContainsKey(&f.Targets[0], "user1"))
	assert.NotNil(t, f.Targets[0].preprocessed.valuesMap)
}

// In the older schema, with no contextKind on the clause, "attribute" is a literal name even if
// it contains slashes.
func TestClauseAttributeWithoutContextKindIsLiteral(t *testing.T) {
	var f FeatureFlag
	require.NoError(t, json.Unmarshal([]byte(`{
		"key": "flag-key",
		"rules": [{"clauses": [{"attribute": "/name", "op": "in", "values": ["x"]}]}]
	}`), &f))
	assert.Equal(t, ldattr.NewLiteralRef("/name"), f.Rules[0].Clauses[0].Attribute)
}

// Key order must not matter: a clause whose "attribute" arrives before "contextKind" still
// parses the attribute as a path reference.
func TestClauseAttributeParsingIsIndependentOfKeyOrder(t *testing.T) {
	var f FeatureFlag
	require.NoError(t, json.Unmarshal([]byte(`{
		"key": "flag-key",
		"rules": [{"clauses": [{"attribute": "/name", "op": "in", "values": ["x"], "contextKind": "org"}]}]
	}`), &f))
	assert.Equal(t, ldattr.NewRef("/name"), f.Rules[0].Clauses[0].Attribute)
}

const segmentJSON = `{
	"key": "segment-key",
	"included": ["user1"],
	"excluded": ["user2"],
	"includedContexts": [{"contextKind": "org", "values": ["org1"]}],
	"excludedContexts": [{"contextKind": "org", "values": ["org2"]}],
	"salt": "segment-salt",
	"rules": [
		{
			"id": "rule-id",
			"clauses": [{"attribute": "name", "op": "in", "values": ["Lucy"], "negate": false}],
			"weight": 50000,
			"bucketBy": "name",
			"rolloutContextKind": "user"
		}
	],
	"unbounded": true,
	"unboundedContextKind": "org",
	"version": 3,
	"generation": 2,
	"deleted": false
}`

func TestSegmentUnmarshal(t *testing.T) {
	var s Segment
	require.NoError(t, json.Unmarshal([]byte(segmentJSON), &s))

	assert.Equal(t, "segment-key", s.Key)
	assert.Equal(t, []string{"user1"}, s.Included)
	assert.Equal(t, []string{"user2"}, s.Excluded)
	require.Len(t, s.IncludedContexts, 1)
	assert.Equal(t, "org", string(s.IncludedContexts[0].ContextKind))

	require.Len(t, s.Rules, 1)
	rule := s.Rules[0]
	assert.Equal(t, ldvalue.NewOptionalInt(50000), rule.Weight)
	assert.Equal(t, ldattr.NewRef("name"), rule.BucketBy)
	assert.Equal(t, "user", string(rule.RolloutContextKind))

	assert.True(t, s.Unbounded)
	assert.Equal(t, "org", string(s.UnboundedContextKind))
	assert.Equal(t, 3, s.Version)
	assert.Equal(t, ldvalue.NewOptionalInt(2), s.Generation)
}

func TestSegmentMarshalUnmarshalRoundTrip(t *testing.T) {
	var s Segment
	require.NoError(t, json.Unmarshal([]byte(segmentJSON), &s))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var s2 Segment
	require.NoError(t, json.Unmarshal(data, &s2))
	assert.Equal(t, s, s2)
}

func TestUnmarshalMalformedJSONReturnsError(t *testing.T) {
	var f FeatureFlag
	assert.Error(t, json.Unmarshal([]byte(`{"key": [3]}`), &f))
	var s Segment
	assert.Error(t, json.Unmarshal([]byte(`{"key"`), &s))
}
