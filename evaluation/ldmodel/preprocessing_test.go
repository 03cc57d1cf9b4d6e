package ldmodel

import (
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSemVerPadsMissingComponents(t *testing.T) {
	for _, p := range []struct {
		input    string
		expected string
	}{
		{"2.0.0", "2.0.0"},
		{"2.0", "2.0.0"},
		{"2", "2.0.0"},
		{"2-rc1", "2.0.0-rc1"},
		{"2.1-rc1", "2.1.0-rc1"},
		{"2.0.0+build2", "2.0.0+build2"},
	} {
		v, ok := ParseSemVer(ldvalue.String(p.input))
		require.True(t, ok, "input %q", p.input)
		expected, ok := ParseSemVer(ldvalue.String(p.expected))
		require.True(t, ok)
		assert.Equal(t, 0, v.ComparePrecedence(expected), "input %q", p.input)
	}
}

func TestParseSemVerRejectsInvalidInput(t *testing.T) {
	for _, input := range []ldvalue.Value{
		ldvalue.String("hello"),
		ldvalue.String(""),
		ldvalue.Int(2),
		ldvalue.Null(),
	} {
		_, ok := ParseSemVer(input)
		assert.False(t, ok, "input %s", input)
	}
}

func TestParseDateTime(t *testing.T) {
	ms, ok := ParseDateTime(ldvalue.Int(1000))
	require.True(t, ok)
	assert.Equal(t, float64(1000), ms)

	ms, ok = ParseDateTime(ldvalue.String("1970-01-01T00:00:01Z"))
	require.True(t, ok)
	assert.Equal(t, float64(1000), ms)

	_, ok = ParseDateTime(ldvalue.String("not a date"))
	assert.False(t, ok)

	_, ok = ParseDateTime(ldvalue.Bool(true))
	assert.False(t, ok)
}

func TestTargetLookupsWorkWithAndWithoutPreprocessing(t *testing.T) {
	flag := FeatureFlag{
		Key:     "flagkey",
		Targets: []Target{{Values: []string{"a", "b"}, Variation: 0}},
	}

	assert.True(t, TargetContainsKey(&flag.Targets[0], "a"))
	assert.False(t, TargetContainsKey(&flag.Targets[0], "c"))

	PreprocessFlag(&flag)
	assert.True(t, TargetContainsKey(&flag.Targets[0], "a"))
	assert.False(t, TargetContainsKey(&flag.Targets[0], "c"))
}

func TestSegmentLookupsWorkWithAndWithoutPreprocessing(t *testing.T) {
	segment := Segment{
		Key:      "segkey",
		Included: []string{"a"},
		Excluded: []string{"b"},
	}

	check := func() {
		assert.True(t, SegmentIncludesKey(&segment, "a"))
		assert.False(t, SegmentIncludesKey(&segment, "b"))
		assert.True(t, SegmentExcludesKey(&segment, "b"))
		assert.False(t, SegmentExcludesKey(&segment, "a"))
	}
	check()
	PreprocessSegment(&segment)
	check()
}

func TestClauseValueRegexIgnoresInvalidPatterns(t *testing.T) {
	clause := Clause{
		Op:     OperatorMatches,
		Values: []ldvalue.Value{ldvalue.String("valid.*"), ldvalue.String("(invalid"), ldvalue.Int(3)},
	}

	check := func() {
		assert.NotNil(t, ClauseValueRegex(&clause, 0))
		assert.Nil(t, ClauseValueRegex(&clause, 1))
		assert.Nil(t, ClauseValueRegex(&clause, 2))
	}
	check()
	preprocessClause(&clause)
	check()
}

func TestBigSegmentRef(t *testing.T) {
	s := Segment{Key: "segkey", Generation: ldvalue.NewOptionalInt(2)}
	assert.Equal(t, "segkey.g2", s.BigSegmentRef())
}
