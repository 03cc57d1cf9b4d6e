package ldmodel

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// FeatureFlag describes an individual feature flag.
//
// The fields of this struct are exported for use by the SDK core's own components. Flag data
// normally arrives from LaunchDarkly endpoints in JSON form and is deserialized with
// UnmarshalJSON, which also performs the preprocessing steps that the evaluator relies on.
type FeatureFlag struct {
	// Key is the unique string key of the feature flag.
	Key string
	// On is true if targeting is turned on for this flag.
	//
	// If On is false, the evaluator always uses OffVariation and ignores all other fields.
	On bool
	// Prerequisites is a list of flag conditions that must be satisfied before this flag's own
	// targeting is applied. If any prerequisite is not met, the flag behaves as if it were off.
	Prerequisites []Prerequisite
	// Targets contains sets of individually targeted context keys for the default kind ("user").
	//
	// Targets take precedence over Rules: if a context is matched by any Target, the Rules are
	// ignored. Targets are ignored if targeting is turned off.
	Targets []Target
	// ContextTargets contains sets of individually targeted context keys for specific kinds.
	ContextTargets []Target
	// Rules is a list of rules that may match a context. The first matching rule wins.
	Rules []FlagRule
	// Fallthrough defines the flag's behavior if targeting is on but the context is not matched
	// by any Target or Rule.
	Fallthrough VariationOrRollout
	// OffVariation specifies the variation index to use if targeting is turned off.
	//
	// If this is undefined, the result has an undefined variation index and a null value.
	OffVariation ldvalue.OptionalInt
	// Variations is the list of all allowable variations for this flag. Variation indices found
	// in Targets, Rules, and Prerequisites are zero-based indices to this list.
	Variations []ldvalue.Value
	// Salt is a randomized value assigned to this flag when it is created, used as part of the
	// bucketing hash so that rollouts are consistent within a flag but differ between flags.
	Salt string
	// TrackEvents is true if detailed event data should be sent for each evaluation of this flag.
	// The core does not implement event delivery; this is carried for the event subsystem.
	TrackEvents bool
	// TrackEventsFallthrough is true if detailed event data should be sent for evaluations where
	// targeting was on but the context fell through to the default rule.
	TrackEventsFallthrough bool
	// DebugEventsUntilDate, if nonzero, is a Unix millisecond timestamp until which full event
	// data should be sent for each evaluation of this flag.
	DebugEventsUntilDate ldtime.UnixMillisecondTime
	// Version is incremented by the service every time the flag's configuration changes.
	Version int
	// Deleted is true if this is a tombstone for a deleted flag rather than real flag data.
	// Deleted flags are never evaluated.
	Deleted bool
	// SamplingRatio controls the rate at which feature and debug events are emitted for this
	// flag. Undefined means 1; non-positive values disable emission entirely.
	SamplingRatio ldvalue.OptionalInt
	// ExcludeFromSummaries is true if this flag should be omitted from event summary counts.
	ExcludeFromSummaries bool
}

// FlagRule describes a single rule within a feature flag: a set of ANDed clauses plus either a
// fixed variation or a rollout to apply when all clauses match.
type FlagRule struct {
	// VariationOrRollout defines what to return if the context matches this rule.
	VariationOrRollout
	// ID is a randomized identifier assigned to each rule when it is created. It is reported in
	// the RuleID property of the evaluation reason.
	ID string
	// Clauses is the list of conditions making up the rule. Every Clause must match for the rule
	// to match.
	Clauses []Clause
	// TrackEvents is true if detailed event data should be sent for evaluations matching this rule.
	TrackEvents bool
}

// RolloutKind describes whether a rollout is a plain percentage rollout or an experiment.
type RolloutKind string

const (
	// RolloutKindRollout is the default: a plain percentage rollout.
	RolloutKindRollout RolloutKind = "rollout"
	// RolloutKindExperiment marks an experiment, which affects tracking and bucketing.
	RolloutKindExperiment RolloutKind = "experiment"
)

// VariationOrRollout describes either a fixed variation or a percentage rollout.
//
// Invariant: either Variation is defined or Rollout has a non-empty Variations list; anything
// else is a malformed flag.
type VariationOrRollout struct {
	// Variation is the index of a fixed variation to return, if defined.
	Variation ldvalue.OptionalInt
	// Rollout describes a percentage rollout, used when Variation is undefined.
	Rollout Rollout
}

// Rollout describes how contexts are bucketed into variations during a percentage rollout.
type Rollout struct {
	// Kind distinguishes a plain rollout from an experiment. Empty means rollout.
	Kind RolloutKind
	// ContextKind is the context kind whose attributes are used for bucketing. Empty means the
	// default kind.
	ContextKind ldcontext.Kind
	// Variations lists the rollout's variations with their weights. Weights should add up to
	// 100000; any shortfall accrues to the last element.
	Variations []WeightedVariation
	// BucketBy is the context attribute used to distinguish contexts in a rollout. Empty means
	// the context key. Ignored for experiments.
	BucketBy ldattr.Ref
	// Seed, if defined, replaces the flag key and salt as the basis of the bucketing hash, so
	// that rollouts sharing a Seed assign the same contexts to the same buckets.
	Seed ldvalue.OptionalInt
}

// IsExperiment returns true if this rollout represents an experiment.
func (r Rollout) IsExperiment() bool {
	return r.Kind == RolloutKindExperiment
}

// Clause describes an individual test condition within a FlagRule or SegmentRule.
type Clause struct {
	// ContextKind is the kind of context this clause applies to. Empty means the default kind.
	// Ignored when Attribute is the special "kind" attribute.
	ContextKind ldcontext.Kind
	// Attribute is the context attribute being tested. Ignored when Op is OperatorSegmentMatch.
	//
	// If the context's value for the attribute is a JSON array, the test is repeated for each
	// element until a match is found.
	Attribute ldattr.Ref
	// Op is the test to perform.
	Op Operator
	// Values is the list of constants to compare against, ORed together: the clause matches if
	// the attribute value matches any element under Op.
	Values []ldvalue.Value
	// Negate inverts the result of the test. It does not apply when the clause is treated as a
	// non-match because the attribute has no value.
	Negate bool

	preprocessed clausePreprocessedData
}

// WeightedVariation describes a fraction of contexts that receive a specific variation.
type WeightedVariation struct {
	// Variation is the variation index for this bucket.
	Variation int
	// Weight is the proportion of contexts in this bucket, as an integer from 0 to 100000.
	Weight int
	// Untracked is true if contexts in this bucket should not have experiment events sent.
	Untracked bool
}

// Target describes a set of context keys that receive a specific variation.
type Target struct {
	// ContextKind is the kind of context this target list applies to. Empty means the default
	// kind.
	ContextKind ldcontext.Kind
	// Values is the set of context keys in this target.
	Values []string
	// Variation is the variation index to return on a match.
	Variation int

	preprocessed targetPreprocessedData
}

// Prerequisite describes a requirement that another flag return a specific variation.
//
// The condition is met only if the prerequisite flag has targeting turned on and returns the
// specified variation; an off flag never satisfies a prerequisite, even if its off variation
// happens to be the required one.
type Prerequisite struct {
	// Key is the key of the prerequisite flag.
	Key string
	// Variation is the variation index the prerequisite flag must return.
	Variation int
}
