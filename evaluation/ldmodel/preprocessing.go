package ldmodel

import (
	"regexp"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-semver"
)

// The preprocessed data structures built here are an optimization, not a contract: every
// accessor falls back to computing the same answer on demand if preprocessing has not run.

type targetPreprocessedData struct {
	valuesMap map[string]struct{}
}

type segmentPreprocessedData struct {
	includeMap map[string]struct{}
	excludeMap map[string]struct{}
}

type clausePreprocessedValue struct {
	computed     bool
	valid        bool
	parsedRegexp *regexp.Regexp
	parsedSemver semver.Version
	parsedTime   float64
}

type clausePreprocessedData struct {
	values []clausePreprocessedValue
}

// Matches the numeric components at the start of a semver string, so that missing minor/patch
// components can be padded with ".0" before any prerelease or build suffix.
var semVerNumericComponentsRegex = regexp.MustCompile(`^\d+(\.\d+)?(\.\d+)?`) //nolint:gochecknoglobals

// PreprocessFlag builds the lookup structures used to speed up evaluation of a flag. It is
// called automatically by UnmarshalJSON; code that constructs flags programmatically (such as
// tests) may call it directly, or not at all.
func PreprocessFlag(f *FeatureFlag) {
	for i := range f.Targets {
		f.Targets[i].preprocessed = preprocessTarget(f.Targets[i].Values)
	}
	for i := range f.ContextTargets {
		f.ContextTargets[i].preprocessed = preprocessTarget(f.ContextTargets[i].Values)
	}
	for i := range f.Rules {
		for j := range f.Rules[i].Clauses {
			preprocessClause(&f.Rules[i].Clauses[j])
		}
	}
}

// PreprocessSegment builds the lookup structures used to speed up matching of a segment.
func PreprocessSegment(s *Segment) {
	s.preprocessed = segmentPreprocessedData{
		includeMap: makeStringSet(s.Included),
		excludeMap: makeStringSet(s.Excluded),
	}
	for i := range s.IncludedContexts {
		s.IncludedContexts[i].preprocessed = preprocessTarget(s.IncludedContexts[i].Values)
	}
	for i := range s.ExcludedContexts {
		s.ExcludedContexts[i].preprocessed = preprocessTarget(s.ExcludedContexts[i].Values)
	}
	for i := range s.Rules {
		for j := range s.Rules[i].Clauses {
			preprocessClause(&s.Rules[i].Clauses[j])
		}
	}
}

func preprocessTarget(values []string) targetPreprocessedData {
	return targetPreprocessedData{valuesMap: makeStringSet(values)}
}

func preprocessClause(c *Clause) {
	switch c.Op {
	case OperatorMatches, OperatorBefore, OperatorAfter,
		OperatorSemVerEqual, OperatorSemVerLessThan, OperatorSemVerGreaterThan:
		values := make([]clausePreprocessedValue, len(c.Values))
		for i, v := range c.Values {
			values[i] = computeClauseValue(c.Op, v)
		}
		c.preprocessed = clausePreprocessedData{values: values}
	}
}

func computeClauseValue(op Operator, v ldvalue.Value) clausePreprocessedValue {
	p := clausePreprocessedValue{computed: true}
	switch op {
	case OperatorMatches:
		if v.Type() == ldvalue.StringType {
			if rx, err := regexp.Compile(v.StringValue()); err == nil {
				p.valid, p.parsedRegexp = true, rx
			}
		}
	case OperatorBefore, OperatorAfter:
		p.parsedTime, p.valid = parseDateTime(v)
	case OperatorSemVerEqual, OperatorSemVerLessThan, OperatorSemVerGreaterThan:
		p.parsedSemver, p.valid = parseSemVer(v)
	}
	return p
}

func makeStringSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// TargetContainsKey tests whether a flag target list contains the given context key.
func TargetContainsKey(t *Target, key string) bool {
	if t.preprocessed.valuesMap != nil {
		_, found := t.preprocessed.valuesMap[key]
		return found
	}
	return stringSliceContains(t.Values, key)
}

// SegmentTargetContainsKey tests whether a segment target list contains the given context key.
func SegmentTargetContainsKey(t *SegmentTarget, key string) bool {
	if t.preprocessed.valuesMap != nil {
		_, found := t.preprocessed.valuesMap[key]
		return found
	}
	return stringSliceContains(t.Values, key)
}

// SegmentIncludesKey tests the segment's default-kind include list.
func SegmentIncludesKey(s *Segment, key string) bool {
	if s.preprocessed.includeMap != nil {
		_, found := s.preprocessed.includeMap[key]
		return found
	}
	return stringSliceContains(s.Included, key)
}

// SegmentExcludesKey tests the segment's default-kind exclude list.
func SegmentExcludesKey(s *Segment, key string) bool {
	if s.preprocessed.excludeMap != nil {
		_, found := s.preprocessed.excludeMap[key]
		return found
	}
	return stringSliceContains(s.Excluded, key)
}

// ClauseValueRegex returns the compiled regular expression for the clause value at the given
// index, or nil if the value is not a valid regex.
func ClauseValueRegex(c *Clause, index int) *regexp.Regexp {
	if p, ok := preprocessedValue(c, index); ok {
		return p.parsedRegexp
	}
	if v := c.Values[index]; v.Type() == ldvalue.StringType {
		if rx, err := regexp.Compile(v.StringValue()); err == nil {
			return rx
		}
	}
	return nil
}

// ClauseValueTime returns the clause value at the given index as milliseconds since epoch.
func ClauseValueTime(c *Clause, index int) (float64, bool) {
	if p, ok := preprocessedValue(c, index); ok {
		return p.parsedTime, p.valid
	}
	return parseDateTime(c.Values[index])
}

// ClauseValueSemVer returns the clause value at the given index as a semantic version.
func ClauseValueSemVer(c *Clause, index int) (semver.Version, bool) {
	if p, ok := preprocessedValue(c, index); ok {
		return p.parsedSemver, p.valid
	}
	return parseSemVer(c.Values[index])
}

func preprocessedValue(c *Clause, index int) (clausePreprocessedValue, bool) {
	if c.preprocessed.values != nil && index < len(c.preprocessed.values) &&
		c.preprocessed.values[index].computed {
		return c.preprocessed.values[index], true
	}
	return clausePreprocessedValue{}, false
}

// ParseDateTime converts a JSON value to milliseconds since epoch: strings are parsed as
// RFC3339, numbers are taken as-is.
func ParseDateTime(v ldvalue.Value) (float64, bool) {
	return parseDateTime(v)
}

// ParseSemVer converts a JSON string value to a semantic version, padding missing minor and
// patch components with ".0" (so "2" and "2-rc1" parse as "2.0.0" and "2.0.0-rc1").
func ParseSemVer(v ldvalue.Value) (semver.Version, bool) {
	return parseSemVer(v)
}

func parseDateTime(v ldvalue.Value) (float64, bool) {
	switch v.Type() {
	case ldvalue.NumberType:
		return v.Float64Value(), true
	case ldvalue.StringType:
		if t, err := time.Parse(time.RFC3339Nano, v.StringValue()); err == nil {
			return float64(t.UnixNano()) / float64(time.Millisecond), true
		}
	}
	return 0, false
}

func parseSemVer(v ldvalue.Value) (semver.Version, bool) {
	if v.Type() != ldvalue.StringType {
		return semver.Version{}, false
	}
	s := v.StringValue()
	if sv, err := semver.Parse(s); err == nil {
		return sv, true
	}
	numerics := semVerNumericComponentsRegex.FindStringSubmatch(s)
	if numerics == nil {
		return semver.Version{}, false
	}
	padded := numerics[0]
	for i := 1; i < len(numerics); i++ {
		if numerics[i] == "" {
			padded += ".0"
		}
	}
	padded += s[len(numerics[0]):]
	if sv, err := semver.Parse(padded); err == nil {
		return sv, true
	}
	return semver.Version{}, false
}

func stringSliceContains(values []string, key string) bool {
	for _, v := range values {
		if v == key {
			return true
		}
	}
	return false
}
