package ldmodel

import (
	"fmt"

	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// Segment describes a group of contexts, matched by include/exclude key lists and rules.
type Segment struct {
	// Key is the unique string key of the segment.
	Key string
	// Included is a list of context keys that always match this segment, for the default kind.
	// Inclusion takes precedence over exclusion.
	Included []string
	// Excluded is a list of context keys that never match this segment (unless also in Included),
	// for the default kind.
	Excluded []string
	// IncludedContexts holds per-kind include lists for kinds other than the default.
	IncludedContexts []SegmentTarget
	// ExcludedContexts holds per-kind exclude lists for kinds other than the default.
	ExcludedContexts []SegmentTarget
	// Salt is a randomized value used in the bucketing hash for weighted segment rules.
	Salt string
	// Rules is a list of rules that may match a context, consulted only if the context key was
	// not matched by any include or exclude list.
	Rules []SegmentRule
	// Unbounded is true if this is a big segment: its membership lists are stored externally and
	// are not limited in size. The name is historical.
	Unbounded bool
	// UnboundedContextKind is the context kind associated with the external membership lists for
	// a big segment. Empty means the default kind. Ignored unless Unbounded is true.
	UnboundedContextKind ldcontext.Kind
	// Version is incremented by the service every time the segment's configuration changes.
	Version int
	// Generation indicates which set of big segment data is currently active for this segment
	// key. If undefined, the data came from an older schema and big segment matching is not
	// possible.
	Generation ldvalue.OptionalInt
	// Deleted is true if this is a tombstone for a deleted segment rather than real data.
	Deleted bool

	preprocessed segmentPreprocessedData
}

// SegmentTarget describes a target list within a segment for a specific context kind.
type SegmentTarget struct {
	// ContextKind is the kind this list applies to. Empty means the default kind.
	ContextKind ldcontext.Kind
	// Values is the set of context keys in this list.
	Values []string

	preprocessed targetPreprocessedData
}

// SegmentRule describes a single rule within a segment.
type SegmentRule struct {
	// ID is a randomized identifier assigned to each rule when it is created.
	ID string
	// Clauses is the list of conditions making up the rule, ANDed together.
	Clauses []Clause
	// Weight, if defined, limits the rule to a percentage of the contexts that match its
	// clauses, as an integer from 0 to 100000.
	Weight ldvalue.OptionalInt
	// BucketBy is the context attribute used for bucketing when Weight is defined. Empty means
	// the context key.
	BucketBy ldattr.Ref
	// RolloutContextKind is the kind of context used for bucketing when Weight is defined.
	// Empty means the default kind.
	RolloutContextKind ldcontext.Kind
}

// BigSegmentRef returns the key under which membership for this segment is stored in a big
// segment store, in the form "{segment_key}.g{generation}". It is only meaningful if the
// segment is unbounded and has a defined generation.
func (s *Segment) BigSegmentRef() string {
	return fmt.Sprintf("%s.g%d", s.Key, s.Generation.OrElse(0))
}
