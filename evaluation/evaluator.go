package evaluation

import (
	"fmt"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
)

type evaluator struct {
	dataProvider       DataProvider
	bigSegmentProvider BigSegmentProvider
	loggers            ldlog.Loggers
	hasLoggers         bool
	loggedBadItems     map[string]struct{}
	loggedBadItemsLock sync.Mutex
}

// evaluationScope holds the state of a single Evaluate call, to avoid repetitive parameter
// passing. Prerequisite recursion shares one scope so that the cycle-detection stack and the
// per-evaluation big segment cache are shared.
type evaluationScope struct {
	owner          *evaluator
	context        ldcontext.Context
	prereqRecorder PrerequisiteFlagEventRecorder
	stack          evaluationStack

	bigSegmentsReferenced bool
	bigSegmentsStatus     ldreason.BigSegmentsStatus
	bigSegmentsMembership map[string]BigSegmentMembership
}

// evaluationStack tracks the chain of flag keys and segment keys currently being evaluated, to
// detect circular references. The original flag key is kept in its own field so that the common
// case of a flag with no prerequisites allocates nothing.
type evaluationStack struct {
	originalFlagKey       string
	prerequisiteFlagChain []string
	segmentChain          []string
}

func (s *evaluationStack) flagChainContains(key string) bool {
	if key == s.originalFlagKey {
		return true
	}
	for _, k := range s.prerequisiteFlagChain {
		if k == key {
			return true
		}
	}
	return false
}

func (s *evaluationStack) segmentChainContains(key string) bool {
	for _, k := range s.segmentChain {
		if k == key {
			return true
		}
	}
	return false
}

func (e *evaluator) Evaluate(
	flag *ldmodel.FeatureFlag,
	context ldcontext.Context,
	prerequisiteFlagEventRecorder PrerequisiteFlagEventRecorder,
) Result {
	if err := context.Err(); err != nil {
		return Result{Detail: ldreason.NewEvaluationDetailForError(
			ldreason.EvalErrorUserNotSpecified, ldvalue.Null())}
	}

	es := evaluationScope{
		owner:          e,
		context:        context,
		prereqRecorder: prerequisiteFlagEventRecorder,
		stack:          evaluationStack{originalFlagKey: flag.Key},
	}

	detail, err := es.evaluate(flag)
	if err != nil {
		e.logMalformedFlagOnce(flag.Key, err)
		detail = ldreason.NewEvaluationDetailForError(ldreason.EvalErrorMalformedFlag, ldvalue.Null())
	}
	if es.bigSegmentsReferenced {
		detail.Reason = ldreason.NewEvalReasonFromReasonWithBigSegmentsStatus(
			detail.Reason, es.bigSegmentsStatus)
	}
	return Result{Detail: detail, IsExperiment: detail.Reason.IsInExperiment()}
}

// logMalformedFlagOnce logs a malformed-data error no more than once per flag key, so that a
// bad flag being evaluated in a hot path does not flood the log.
func (e *evaluator) logMalformedFlagOnce(flagKey string, err error) {
	if !e.hasLoggers {
		return
	}
	e.loggedBadItemsLock.Lock()
	_, seen := e.loggedBadItems[flagKey]
	if !seen {
		e.loggedBadItems[flagKey] = struct{}{}
	}
	e.loggedBadItemsLock.Unlock()
	if !seen {
		e.loggers.Errorf("Invalid flag configuration detected in flag %q: %s", flagKey, err)
	}
}

func (es *evaluationScope) evaluate(flag *ldmodel.FeatureFlag) (ldreason.EvaluationDetail, error) {
	if !flag.On {
		return es.getOffValue(flag, ldreason.NewEvalReasonOff())
	}

	prereqFailedReason, ok, err := es.checkPrerequisites(flag)
	if err != nil {
		return ldreason.EvaluationDetail{}, err
	}
	if !ok {
		return es.getOffValue(flag, prereqFailedReason)
	}

	if variation, found := es.anyTargetMatchVariation(flag); found {
		return es.getVariation(flag, variation, ldreason.NewEvalReasonTargetMatch())
	}

	for ruleIndex := range flag.Rules {
		rule := &flag.Rules[ruleIndex]
		match, err := es.ruleMatchesContext(rule)
		if err != nil {
			return ldreason.EvaluationDetail{}, err
		}
		if match {
			reason := ldreason.NewEvalReasonRuleMatch(ruleIndex, rule.ID)
			return es.getValueForVariationOrRollout(flag, rule.VariationOrRollout, reason)
		}
	}

	return es.getValueForVariationOrRollout(flag, flag.Fallthrough, ldreason.NewEvalReasonFallthrough())
}

// checkPrerequisites returns (failureReason, false, nil) if a prerequisite was not met,
// (_, true, nil) if all prerequisites passed, or a non-nil error for malformed data (including
// a circular prerequisite reference).
func (es *evaluationScope) checkPrerequisites(flag *ldmodel.FeatureFlag) (ldreason.EvaluationReason, bool, error) {
	if len(flag.Prerequisites) == 0 {
		return ldreason.EvaluationReason{}, true, nil
	}

	es.stack.prerequisiteFlagChain = append(es.stack.prerequisiteFlagChain, flag.Key)
	defer func() {
		es.stack.prerequisiteFlagChain = es.stack.prerequisiteFlagChain[:len(es.stack.prerequisiteFlagChain)-1]
	}()
	// The original flag key was already recorded in the stack at the start of the evaluation, so
	// pushing it again here is harmless; flagChainContains checks both.

	for _, prereq := range flag.Prerequisites {
		if es.stack.flagChainContains(prereq.Key) {
			return ldreason.EvaluationReason{}, false, circularPrereqReferenceError(prereq.Key)
		}
		prereqFlag := es.owner.dataProvider.GetFeatureFlag(prereq.Key)
		if prereqFlag == nil {
			return ldreason.NewEvalReasonPrerequisiteFailed(prereq.Key), false, nil
		}

		prereqDetail, err := es.evaluate(prereqFlag)
		if err != nil {
			return ldreason.EvaluationReason{}, false, err
		}
		if es.prereqRecorder != nil {
			es.prereqRecorder(PrerequisiteFlagEvent{
				TargetFlagKey:    flag.Key,
				Context:          es.context,
				PrerequisiteFlag: prereqFlag,
				PrerequisiteResult: Result{
					Detail:       prereqDetail,
					IsExperiment: prereqDetail.Reason.IsInExperiment(),
				},
			})
		}
		// An off prerequisite flag is never a match, regardless of its off variation.
		if !prereqFlag.On || prereqDetail.VariationIndex.OrElse(-1) != prereq.Variation {
			return ldreason.NewEvalReasonPrerequisiteFailed(prereq.Key), false, nil
		}
	}
	return ldreason.EvaluationReason{}, true, nil
}

// anyTargetMatchVariation checks the flag's individual targeting lists. ContextTargets, if
// present, determine the order of checks; an entry for the default kind with no values of its
// own delegates to the old-style Targets list for the same variation.
func (es *evaluationScope) anyTargetMatchVariation(flag *ldmodel.FeatureFlag) (int, bool) {
	if len(flag.ContextTargets) == 0 {
		for i := range flag.Targets {
			t := &flag.Targets[i]
			if es.targetMatchesContext(t.ContextKind, t) {
				return t.Variation, true
			}
		}
		return 0, false
	}
	for i := range flag.ContextTargets {
		t := &flag.ContextTargets[i]
		if (t.ContextKind == "" || t.ContextKind == ldcontext.DefaultKind) && len(t.Values) == 0 {
			for j := range flag.Targets {
				t2 := &flag.Targets[j]
				if t2.Variation == t.Variation && es.targetMatchesContext(t.ContextKind, t2) {
					return t.Variation, true
				}
			}
		} else if es.targetMatchesContext(t.ContextKind, t) {
			return t.Variation, true
		}
	}
	return 0, false
}

func (es *evaluationScope) targetMatchesContext(kind ldcontext.Kind, t *ldmodel.Target) bool {
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual := es.context.IndividualContextByKind(kind)
	if !individual.IsDefined() {
		return false
	}
	return ldmodel.TargetContainsKey(t, individual.Key())
}

func (es *evaluationScope) ruleMatchesContext(rule *ldmodel.FlagRule) (bool, error) {
	for i := range rule.Clauses {
		match, err := es.clauseMatchesContext(&rule.Clauses[i])
		if !match || err != nil {
			return false, err
		}
	}
	return true, nil
}

func (es *evaluationScope) getVariation(
	flag *ldmodel.FeatureFlag,
	index int,
	reason ldreason.EvaluationReason,
) (ldreason.EvaluationDetail, error) {
	if index < 0 || index >= len(flag.Variations) {
		return ldreason.EvaluationDetail{}, badVariationError(index)
	}
	return ldreason.NewEvaluationDetail(flag.Variations[index], index, reason), nil
}

func (es *evaluationScope) getOffValue(
	flag *ldmodel.FeatureFlag,
	reason ldreason.EvaluationReason,
) (ldreason.EvaluationDetail, error) {
	if !flag.OffVariation.IsDefined() {
		return ldreason.EvaluationDetail{Reason: reason}, nil
	}
	return es.getVariation(flag, flag.OffVariation.OrElse(0), reason)
}

func (es *evaluationScope) getValueForVariationOrRollout(
	flag *ldmodel.FeatureFlag,
	vr ldmodel.VariationOrRollout,
	reason ldreason.EvaluationReason,
) (ldreason.EvaluationDetail, error) {
	index, inExperiment, err := es.variationOrRolloutResult(vr, flag.Key, flag.Salt)
	if err != nil {
		return ldreason.EvaluationDetail{}, err
	}
	if inExperiment {
		reason = reasonToExperimentReason(reason)
	}
	return es.getVariation(flag, index, reason)
}

func reasonToExperimentReason(reason ldreason.EvaluationReason) ldreason.EvaluationReason {
	switch reason.GetKind() {
	case ldreason.EvalReasonFallthrough:
		return ldreason.NewEvalReasonFallthroughExperiment(true)
	case ldreason.EvalReasonRuleMatch:
		return ldreason.NewEvalReasonRuleMatchExperiment(reason.GetRuleIndex(), reason.GetRuleID(), true)
	default:
		return reason // COVERAGE: unreachable, rollouts only appear in rules and fallthrough
	}
}

// Error types for malformed flag data. These are never returned to the application; the
// evaluator converts them to a MALFORMED_FLAG reason and logs the underlying message once.

type badVariationError int

func (e badVariationError) Error() string {
	return fmt.Sprintf("rule, fallthrough, or target referenced a nonexistent variation index %d", int(e))
}

type emptyRolloutError struct{}

func (e emptyRolloutError) Error() string {
	return "rollout or experiment with no variations"
}

type circularPrereqReferenceError string

func (e circularPrereqReferenceError) Error() string {
	return fmt.Sprintf("prerequisite relationship to %q caused a circular reference; this is probably a temporary condition due to an incomplete update", string(e))
}

type circularSegmentReferenceError string

func (e circularSegmentReferenceError) Error() string {
	return fmt.Sprintf("segment rule referencing segment %q caused a circular reference; this is probably a temporary condition due to an incomplete update", string(e))
}

type badAttrRefError string

func (e badAttrRefError) Error() string {
	return fmt.Sprintf("invalid attribute reference %q", string(e))
}
