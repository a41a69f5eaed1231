// Package query filters metadata tables. Every entry point is a pure function
// over an immutable table snapshot: unknown fields, unknown operators and
// malformed conditions degrade to empty results instead of errors.
package query

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Operator is a per-field comparison.
type Operator string

const (
	OpEqual      Operator = "="
	OpNotEqual   Operator = "!="
	OpGreater    Operator = ">"
	OpLess       Operator = "<"
	OpGreaterEq  Operator = ">="
	OpLessEq     Operator = "<="
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
)

// Operators lists every supported operator in display order.
var Operators = []Operator{
	OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEq, OpLessEq,
	OpContains, OpStartsWith, OpEndsWith, OpRegex,
}

// Known reports whether op is a supported operator.
func (op Operator) Known() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Join combines per-condition results.
type Join string

const (
	JoinAnd Join = "AND"
	JoinOr  Join = "OR"
)

// Condition is one user-supplied predicate. A nil Value marks the condition
// as malformed; it is skipped during evaluation.
type Condition struct {
	Field    string   `json:"field"`
	Value    *string  `json:"value"`
	Operator Operator `json:"operator,omitempty"`
}

// Cond builds a condition with a present value.
func Cond(field string, op Operator, value string) Condition {
	return Condition{Field: field, Value: &value, Operator: op}
}

// op returns the condition's operator, defaulting to equality.
func (c Condition) op() Operator {
	if c.Operator == "" {
		return OpEqual
	}
	return c.Operator
}

func (c Condition) valid() bool {
	return c.Field != "" && c.Value != nil
}

// UnmarshalJSON accepts string, number and boolean values so form-builder
// clients can post {"value": 30}.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field    string          `json:"field"`
		Value    json.RawMessage `json:"value"`
		Operator Operator        `json:"operator"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode condition")
	}
	c.Field = raw.Field
	c.Operator = raw.Operator
	c.Value = nil

	v := bytes.TrimSpace(raw.Value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil
	}
	var s string
	switch v[0] {
	case '"':
		if err := json.Unmarshal(v, &s); err != nil {
			return errors.Wrap(err, "decode condition value")
		}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return errors.Wrap(err, "decode condition value")
		}
		s = "False"
		if b {
			s = "True"
		}
	default:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return errors.Wrap(err, "decode condition value")
		}
		s = n.String()
	}
	c.Value = &s
	return nil
}

// Query is an ordered list of conditions and the join combining them.
type Query struct {
	Conditions []Condition `json:"conditions"`
	Join       Join        `json:"join_operator"`
}
