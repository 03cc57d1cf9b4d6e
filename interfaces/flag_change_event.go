package interfaces

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// FlagChangeEvent is sent to registered listeners whenever a feature flag's configuration has
// changed in any way that could affect its evaluation, including indirectly through a change to
// one of its prerequisite flags or referenced segments. It does not say what the change was or
// whether any particular context's flag value is different.
type FlagChangeEvent struct {
	// Key is the key of the flag whose configuration changed.
	Key string
}

// FlagValueChangeEvent is sent to listeners registered for a specific flag key and evaluation
// context, only when the evaluated value for that context actually changed.
type FlagValueChangeEvent struct {
	// Key is the key of the flag.
	Key string
	// Context is the evaluation context the change was observed for.
	Context ldcontext.Context
	// OldValue is the last known value. It is ldvalue.Null() if the flag was previously
	// unevaluable.
	OldValue ldvalue.Value
	// NewValue is the new value.
	NewValue ldvalue.Value
}
