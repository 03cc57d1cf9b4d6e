// Package evaluation contains the feature flag evaluation engine: a pure function over a
// flag, an evaluation context, and the current flag/segment data.
//
// The Evaluator performs no I/O of its own other than reading flags and segments through the
// DataProvider it was constructed with, and optionally querying big segment membership through
// a BigSegmentProvider. All failure modes are reported in the evaluation reason; Evaluate
// never panics on malformed data.
package evaluation

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
)

// Evaluator is the engine interface. Implementations created by NewEvaluator are safe for
// concurrent use; each call observes a consistent snapshot of the data it reads but no
// consistency is guaranteed across calls.
type Evaluator interface {
	// Evaluate computes the value of a feature flag for the given context.
	//
	// If prerequisiteFlagEventRecorder is non-nil, it is called for each prerequisite flag that
	// is evaluated along the way, in evaluation order.
	Evaluate(
		flag *ldmodel.FeatureFlag,
		context ldcontext.Context,
		prerequisiteFlagEventRecorder PrerequisiteFlagEventRecorder,
	) Result
}

// Result is the result of a flag evaluation.
type Result struct {
	// Detail is the value, variation index, and reason.
	Detail ldreason.EvaluationDetail
	// IsExperiment is true if the evaluation resulted in an experiment rollout and served one
	// of the experiment's tracked variations.
	IsExperiment bool
}

// DataProvider is the evaluator's read-only view of the flag and segment data. A nil return
// means the item does not exist or is deleted.
type DataProvider interface {
	GetFeatureFlag(key string) *ldmodel.FeatureFlag
	GetSegment(key string) *ldmodel.Segment
}

// BigSegmentProvider queries membership in big segments: segments whose context lists are
// stored externally rather than in the flag data.
type BigSegmentProvider interface {
	// GetBigSegmentMembership returns the external membership state for the given context key,
	// plus a status describing how trustworthy that state is. The membership value may be nil.
	GetBigSegmentMembership(contextKey string) (BigSegmentMembership, ldreason.BigSegmentsStatus)
}

// BigSegmentMembership is a set of inclusion/exclusion decisions for one context key. Keys are
// big segment references in "{segment_key}.g{generation}" form. An undefined result means the
// external store has no explicit decision and segment rules should be consulted instead.
type BigSegmentMembership interface {
	CheckMembership(segmentRef string) ldvalue.OptionalBool
}

// PrerequisiteFlagEvent is the parameter type for a PrerequisiteFlagEventRecorder.
type PrerequisiteFlagEvent struct {
	// TargetFlagKey is the key of the flag whose evaluation triggered this prerequisite check.
	TargetFlagKey string
	// Context is the context the evaluation was for.
	Context ldcontext.Context
	// PrerequisiteFlag is the prerequisite flag that was evaluated.
	PrerequisiteFlag *ldmodel.FeatureFlag
	// PrerequisiteResult is the result of evaluating the prerequisite flag.
	PrerequisiteResult Result
}

// PrerequisiteFlagEventRecorder is a callback that receives a record for every prerequisite
// flag evaluation performed during an Evaluate call.
type PrerequisiteFlagEventRecorder func(PrerequisiteFlagEvent)

// EvaluatorOption is an optional parameter for NewEvaluator.
type EvaluatorOption interface {
	apply(e *evaluator)
}

type evaluatorOptionBigSegmentProvider struct{ provider BigSegmentProvider }

// EvaluatorOptionBigSegmentProvider configures the evaluator to be able to query big segment
// membership. Without it, any evaluation touching a big segment reports NOT_CONFIGURED.
func EvaluatorOptionBigSegmentProvider(provider BigSegmentProvider) EvaluatorOption {
	return evaluatorOptionBigSegmentProvider{provider: provider}
}

func (o evaluatorOptionBigSegmentProvider) apply(e *evaluator) {
	e.bigSegmentProvider = o.provider
}

type evaluatorOptionErrorLogger struct{ loggers ldlog.Loggers }

// EvaluatorOptionErrorLogger configures where the evaluator reports malformed flag data. Each
// malformed item is logged at most once.
func EvaluatorOptionErrorLogger(loggers ldlog.Loggers) EvaluatorOption {
	return evaluatorOptionErrorLogger{loggers: loggers}
}

func (o evaluatorOptionErrorLogger) apply(e *evaluator) {
	e.loggers = o.loggers
	e.hasLoggers = true
}

// NewEvaluator creates an Evaluator that reads flags and segments through the given
// DataProvider.
func NewEvaluator(dataProvider DataProvider, options ...EvaluatorOption) Evaluator {
	e := &evaluator{
		dataProvider:   dataProvider,
		loggedBadItems: make(map[string]struct{}),
	}
	for _, o := range options {
		o.apply(e)
	}
	return e
}
