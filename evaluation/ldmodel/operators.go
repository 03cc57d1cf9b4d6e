package ldmodel

// Operator is the type of test that a clause performs against a context attribute value.
type Operator string

const (
	// OperatorIn matches if the attribute value is equal to any clause value.
	OperatorIn Operator = "in"
	// OperatorEndsWith matches if the attribute string ends with the clause string.
	OperatorEndsWith Operator = "endsWith"
	// OperatorStartsWith matches if the attribute string starts with the clause string.
	OperatorStartsWith Operator = "startsWith"
	// OperatorMatches matches if the attribute string matches the clause regular expression.
	OperatorMatches Operator = "matches"
	// OperatorContains matches if the attribute string contains the clause string.
	OperatorContains Operator = "contains"
	// OperatorLessThan matches if the attribute number is less than the clause number.
	OperatorLessThan Operator = "lessThan"
	// OperatorLessThanOrEqual matches if the attribute number is less than or equal to the
	// clause number.
	OperatorLessThanOrEqual Operator = "lessThanOrEqual"
	// OperatorGreaterThan matches if the attribute number is greater than the clause number.
	OperatorGreaterThan Operator = "greaterThan"
	// OperatorGreaterThanOrEqual matches if the attribute number is greater than or equal to
	// the clause number.
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	// OperatorBefore matches if the attribute value, as a date/time, is earlier than the clause
	// value.
	OperatorBefore Operator = "before"
	// OperatorAfter matches if the attribute value, as a date/time, is later than the clause
	// value.
	OperatorAfter Operator = "after"
	// OperatorSegmentMatch matches if the context is a member of the segment whose key is the
	// clause value.
	OperatorSegmentMatch Operator = "segmentMatch"
	// OperatorSemVerEqual matches if the attribute value and clause value are equal semantic
	// versions.
	OperatorSemVerEqual Operator = "semVerEqual"
	// OperatorSemVerLessThan matches if the attribute semantic version is less than the clause
	// value.
	OperatorSemVerLessThan Operator = "semVerLessThan"
	// OperatorSemVerGreaterThan matches if the attribute semantic version is greater than the
	// clause value.
	OperatorSemVerGreaterThan Operator = "semVerGreaterThan"
)
