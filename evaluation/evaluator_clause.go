package evaluation

import (
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
)

func (es *evaluationScope) clauseMatchesContext(c *ldmodel.Clause) (bool, error) {
	if c.Op == ldmodel.OperatorSegmentMatch {
		return es.clauseMatchesSegments(c)
	}
	if !c.Attribute.IsDefined() {
		return false, badAttrRefError("")
	}
	if err := c.Attribute.Err(); err != nil {
		return false, badAttrRefError(c.Attribute.String())
	}
	if c.Attribute.String() == ldattr.KindAttr {
		// A clause on the "kind" attribute tests the kinds of all individual contexts, and
		// ContextKind is ignored.
		return maybeNegate(c.Negate, es.clauseMatchByKind(c)), nil
	}

	kind := c.ContextKind
	if kind == "" {
		kind = ldcontext.DefaultKind
	}
	individual := es.context.IndividualContextByKind(kind)
	if !individual.IsDefined() {
		return false, nil
	}
	value := individual.GetValueForRef(c.Attribute)
	if value.IsNull() {
		// Unknown attribute: always a non-match, and Negate does not apply.
		return false, nil
	}

	if value.Type() == ldvalue.ArrayType {
		for i := 0; i < value.Count(); i++ {
			if matchAnyClauseValue(c, value.GetByIndex(i)) {
				return maybeNegate(c.Negate, true), nil
			}
		}
		return maybeNegate(c.Negate, false), nil
	}
	return maybeNegate(c.Negate, matchAnyClauseValue(c, value)), nil
}

func (es *evaluationScope) clauseMatchByKind(c *ldmodel.Clause) bool {
	for i := 0; i < es.context.IndividualContextCount(); i++ {
		individual := es.context.IndividualContextByIndex(i)
		if individual.IsDefined() &&
			matchAnyClauseValue(c, ldvalue.String(string(individual.Kind()))) {
			return true
		}
	}
	return false
}

func matchAnyClauseValue(c *ldmodel.Clause, contextValue ldvalue.Value) bool {
	for i := range c.Values {
		if matchClauseValue(c, i, contextValue) {
			return true
		}
	}
	return false
}

// matchClauseValue applies the clause operator to one context value and the clause value at the
// given index. A type mismatch is a non-match, never an error; an unrecognized operator is a
// non-match so that newer operators do not abort evaluation on older SDKs.
func matchClauseValue(c *ldmodel.Clause, index int, contextValue ldvalue.Value) bool {
	clauseValue := c.Values[index]
	switch c.Op {
	case ldmodel.OperatorIn:
		return contextValue.Equal(clauseValue)
	case ldmodel.OperatorStartsWith:
		s1, s2, ok := stringOperands(contextValue, clauseValue)
		return ok && strings.HasPrefix(s1, s2)
	case ldmodel.OperatorEndsWith:
		s1, s2, ok := stringOperands(contextValue, clauseValue)
		return ok && strings.HasSuffix(s1, s2)
	case ldmodel.OperatorContains:
		s1, s2, ok := stringOperands(contextValue, clauseValue)
		return ok && strings.Contains(s1, s2)
	case ldmodel.OperatorMatches:
		if contextValue.Type() != ldvalue.StringType {
			return false
		}
		rx := ldmodel.ClauseValueRegex(c, index)
		return rx != nil && rx.MatchString(contextValue.StringValue())
	case ldmodel.OperatorLessThan:
		n1, n2, ok := numericOperands(contextValue, clauseValue)
		return ok && n1 < n2
	case ldmodel.OperatorLessThanOrEqual:
		n1, n2, ok := numericOperands(contextValue, clauseValue)
		return ok && n1 <= n2
	case ldmodel.OperatorGreaterThan:
		n1, n2, ok := numericOperands(contextValue, clauseValue)
		return ok && n1 > n2
	case ldmodel.OperatorGreaterThanOrEqual:
		n1, n2, ok := numericOperands(contextValue, clauseValue)
		return ok && n1 >= n2
	case ldmodel.OperatorBefore:
		t1, t2, ok := timeOperands(c, index, contextValue)
		return ok && t1 < t2
	case ldmodel.OperatorAfter:
		t1, t2, ok := timeOperands(c, index, contextValue)
		return ok && t1 > t2
	case ldmodel.OperatorSemVerEqual:
		cmp, ok := semVerComparison(c, index, contextValue)
		return ok && cmp == 0
	case ldmodel.OperatorSemVerLessThan:
		cmp, ok := semVerComparison(c, index, contextValue)
		return ok && cmp < 0
	case ldmodel.OperatorSemVerGreaterThan:
		cmp, ok := semVerComparison(c, index, contextValue)
		return ok && cmp > 0
	}
	return false
}

func maybeNegate(negate, result bool) bool {
	if negate {
		return !result
	}
	return result
}

func stringOperands(contextValue, clauseValue ldvalue.Value) (string, string, bool) {
	if contextValue.Type() != ldvalue.StringType || clauseValue.Type() != ldvalue.StringType {
		return "", "", false
	}
	return contextValue.StringValue(), clauseValue.StringValue(), true
}

func numericOperands(contextValue, clauseValue ldvalue.Value) (float64, float64, bool) {
	if !contextValue.IsNumber() || !clauseValue.IsNumber() {
		return 0, 0, false
	}
	return contextValue.Float64Value(), clauseValue.Float64Value(), true
}

func timeOperands(c *ldmodel.Clause, index int, contextValue ldvalue.Value) (float64, float64, bool) {
	t1, ok := ldmodel.ParseDateTime(contextValue)
	if !ok {
		return 0, 0, false
	}
	t2, ok := ldmodel.ClauseValueTime(c, index)
	if !ok {
		return 0, 0, false
	}
	return t1, t2, true
}

func semVerComparison(c *ldmodel.Clause, index int, contextValue ldvalue.Value) (int, bool) {
	v1, ok := ldmodel.ParseSemVer(contextValue)
	if !ok {
		return 0, false
	}
	v2, ok := ldmodel.ClauseValueSemVer(c, index)
	if !ok {
		return 0, false
	}
	return v1.ComparePrecedence(v2), true
}
