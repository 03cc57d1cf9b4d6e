package evaluation

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
)

func (es *evaluationScope) clauseMatchesSegments(c *ldmodel.Clause) (bool, error) {
	for _, v := range c.Values {
		if v.Type() != ldvalue.StringType {
			continue
		}
		segment := es.owner.dataProvider.GetSegment(v.StringValue())
		if segment == nil {
			continue
		}
		match, err := es.segmentContainsContext(segment)
		if err != nil {
			return false, err
		}
		if match {
			return maybeNegate(c.Negate, true), nil
		}
	}
	return maybeNegate(c.Negate, false), nil
}

func (es *evaluationScope) segmentContainsContext(s *ldmodel.Segment) (bool, error) {
	if es.stack.segmentChainContains(s.Key) {
		return false, circularSegmentReferenceError(s.Key)
	}
	es.stack.segmentChain = append(es.stack.segmentChain, s.Key)
	defer func() {
		es.stack.segmentChain = es.stack.segmentChain[:len(es.stack.segmentChain)-1]
	}()

	if s.Unbounded {
		return es.bigSegmentContainsContext(s)
	}
	return es.simpleSegmentContainsContext(s, true)
}

// simpleSegmentContainsContext applies a segment's targeting. The include/exclude lists are
// skipped when this is called as the rules-only fallback for a big segment.
func (es *evaluationScope) simpleSegmentContainsContext(
	s *ldmodel.Segment,
	useIncludesAndExcludes bool,
) (bool, error) {
	if useIncludesAndExcludes {
		defaultIndividual := es.context.IndividualContextByKind(ldcontext.DefaultKind)
		if defaultIndividual.IsDefined() && ldmodel.SegmentIncludesKey(s, defaultIndividual.Key()) {
			return true, nil
		}
		for i := range s.IncludedContexts {
			if es.segmentTargetMatchesContext(&s.IncludedContexts[i]) {
				return true, nil
			}
		}
		if defaultIndividual.IsDefined() && ldmodel.SegmentExcludesKey(s, defaultIndividual.Key()) {
			return false, nil
		}
		for i := range s.ExcludedContexts {
			if es.segmentTargetMatchesContext(&s.ExcludedContexts[i]) {
				return false, nil
			}
		}
	}

	for i := range s.Rules {
		match, err := es.segmentRuleMatchesContext(&s.Rules[i], s.Key, s.Salt)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func (es *evaluationScope) segmentTargetMatchesContext(t *ldmodel.SegmentTarget) bool {
	kind := t.ContextKind
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual := es.context.IndividualContextByKind(kind)
	if !individual.IsDefined() {
		return false
	}
	return ldmodel.SegmentTargetContainsKey(t, individual.Key())
}

func (es *evaluationScope) segmentRuleMatchesContext(
	r *ldmodel.SegmentRule,
	segmentKey, salt string,
) (bool, error) {
	for i := range r.Clauses {
		match, err := es.clauseMatchesContext(&r.Clauses[i])
		if !match || err != nil {
			return false, err
		}
	}

	// All of the clauses matched. If a weight is specified, the rule only applies to the
	// corresponding percentage of contexts; bucketing works like a rollout, but on the segment's
	// key and salt.
	if !r.Weight.IsDefined() {
		return true, nil
	}
	bucket, err := es.computeBucketValue(
		ldvalue.OptionalInt{}, r.RolloutContextKind, segmentKey, r.BucketBy, salt)
	if err != nil {
		return false, err
	}
	return bucket < float64(r.Weight.OrElse(0))/100000, nil
}

// bigSegmentContainsContext checks membership in a segment whose context lists are stored
// externally. The first query for a given context key is cached for the rest of the current
// evaluation, so one Evaluate call observes a consistent membership state.
func (es *evaluationScope) bigSegmentContainsContext(s *ldmodel.Segment) (bool, error) {
	if !s.Generation.IsDefined() {
		// A big segment with no generation came from a data source that predates the big segment
		// schema; the external store cannot be queried for it.
		es.recordBigSegmentsStatus(ldreason.BigSegmentsNotConfigured)
		return es.simpleSegmentContainsContext(s, false)
	}

	kind := s.UnboundedContextKind
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual := es.context.IndividualContextByKind(kind)
	if !individual.IsDefined() {
		return false, nil
	}
	key := individual.Key()

	membership, haveMembership := es.bigSegmentsMembership[key]
	if !haveMembership {
		if es.owner.bigSegmentProvider == nil {
			es.recordBigSegmentsStatus(ldreason.BigSegmentsNotConfigured)
			return es.simpleSegmentContainsContext(s, false)
		}
		var status ldreason.BigSegmentsStatus
		membership, status = es.owner.bigSegmentProvider.GetBigSegmentMembership(key)
		if es.bigSegmentsMembership == nil {
			es.bigSegmentsMembership = make(map[string]BigSegmentMembership)
		}
		es.bigSegmentsMembership[key] = membership
		es.recordBigSegmentsStatus(status)
	}

	if membership != nil {
		if included := membership.CheckMembership(s.BigSegmentRef()); included.IsDefined() {
			return included.OrElse(false), nil
		}
	}
	return es.simpleSegmentContainsContext(s, false)
}

// recordBigSegmentsStatus marks the evaluation as having referenced big segments and retains
// the least healthy status seen so far, since that is what the final reason should report.
func (es *evaluationScope) recordBigSegmentsStatus(status ldreason.BigSegmentsStatus) {
	if !es.bigSegmentsReferenced || bigSegmentsStatusRank(status) > bigSegmentsStatusRank(es.bigSegmentsStatus) {
		es.bigSegmentsStatus = status
	}
	es.bigSegmentsReferenced = true
}

func bigSegmentsStatusRank(status ldreason.BigSegmentsStatus) int {
	switch status {
	case ldreason.BigSegmentsHealthy:
		return 0
	case ldreason.BigSegmentsStale:
		return 1
	case ldreason.BigSegmentsNotConfigured:
		return 2
	default: // BigSegmentsStoreError
		return 3
	}
}
