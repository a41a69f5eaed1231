package query

import (
	"fmt"
	"strings"
)

var operatorPhrases = map[Operator]string{
	OpEqual:      "equals",
	OpNotEqual:   "does not equal",
	OpGreater:    "is greater than",
	OpLess:       "is less than",
	OpGreaterEq:  "is greater than or equal to",
	OpLessEq:     "is less than or equal to",
	OpContains:   "contains",
	OpStartsWith: "starts with",
	OpEndsWith:   "ends with",
	OpRegex:      "matches regex",
}

// Phrase returns the human-readable form of op; unknown operators render as
// their own token.
func (op Operator) Phrase() string {
	if p, ok := operatorPhrases[op]; ok {
		return p
	}
	return string(op)
}

// GenerateSummary restates conditions in prose, joined by the join operator
// exactly as supplied.
func GenerateSummary(conditions []Condition, join Join) string {
	if len(conditions) == 0 {
		return "No query conditions specified"
	}
	parts := make([]string, 0, len(conditions))
	for _, c := range conditions {
		value := ""
		if c.Value != nil {
			value = *c.Value
		}
		parts = append(parts, fmt.Sprintf("%s %s '%s'", c.Field, c.op().Phrase(), value))
	}
	return strings.Join(parts, " "+string(join)+" ")
}

// SimpleText is the history text recorded for a single-field query.
func SimpleText(field string, op Operator, value string) string {
	return fmt.Sprintf("%s %s %s", field, op, value)
}
