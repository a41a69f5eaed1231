package query

import (
	"regexp"
	"strings"

	"github.com/stevecastle/dicomalbum/metadata"
)

// predicate decides whether a single row value matches.
type predicate func(v metadata.Value) bool

// EvaluateSimple filters t by a single field predicate. Rows keep table
// order. An unknown field or operator yields an empty view. Reserved path
// columns such as FilePath are matched like any other column.
func EvaluateSimple(t *metadata.Table, field, value string, op Operator) metadata.View {
	if !t.HasColumn(field) {
		return t.Empty()
	}
	match := compile(value, op)
	if match == nil {
		return t.Empty()
	}

	var rows []int
	for i := 0; i < t.Len(); i++ {
		if match(t.Row(i).Get(field)) {
			rows = append(rows, i)
		}
	}
	return metadata.NewView(t, rows)
}

// compile turns an operator and literal into a row predicate, or nil when
// the operator is unknown or the literal is unusable for it.
func compile(value string, op Operator) predicate {
	switch op {
	case OpEqual:
		return func(v metadata.Value) bool { return v.Text() == value }
	case OpNotEqual:
		return func(v metadata.Value) bool { return v.Text() != value }
	case OpGreater, OpLess, OpGreaterEq, OpLessEq:
		return ordering(value, op)
	case OpContains:
		needle := strings.ToLower(value)
		return nullSafe(func(s string) bool { return strings.Contains(strings.ToLower(s), needle) })
	case OpStartsWith:
		prefix := strings.ToLower(value)
		return nullSafe(func(s string) bool { return strings.HasPrefix(strings.ToLower(s), prefix) })
	case OpEndsWith:
		suffix := strings.ToLower(value)
		return nullSafe(func(s string) bool { return strings.HasSuffix(strings.ToLower(s), suffix) })
	case OpRegex:
		re, err := regexp.Compile(`^(?:` + value + `)`)
		if err != nil {
			return nil
		}
		return nullSafe(re.MatchString)
	default:
		return nil
	}
}

// ordering compares numerically when the literal parses as a number; rows
// that do not coerce are excluded. Only when the literal itself fails to
// parse does the comparison fall back to lexicographic order over every row.
func ordering(value string, op Operator) predicate {
	lit, err := metadata.ParseNumber(value)
	if err != nil {
		return func(v metadata.Value) bool {
			return compareOrdered(strings.Compare(v.Text(), value), op)
		}
	}
	return func(v metadata.Value) bool {
		f, ok := v.Float()
		if !ok {
			return false
		}
		switch op {
		case OpGreater:
			return f > lit
		case OpLess:
			return f < lit
		case OpGreaterEq:
			return f >= lit
		default:
			return f <= lit
		}
	}
}

func compareOrdered(cmp int, op Operator) bool {
	switch op {
	case OpGreater:
		return cmp > 0
	case OpLess:
		return cmp < 0
	case OpGreaterEq:
		return cmp >= 0
	default:
		return cmp <= 0
	}
}

func nullSafe(fn func(string) bool) predicate {
	return func(v metadata.Value) bool {
		if v.IsNull() {
			return false
		}
		return fn(v.Text())
	}
}

// EvaluateAdvanced evaluates each well-formed condition against the full
// table and combines the results. No conditions returns the table as-is.
// AND intersects by row identity in the first result's order; OR unions in
// first-seen order. Any join other than AND/OR (case-insensitive) yields an
// empty view.
//
// An unknown operator inside an AND makes the intersection empty, which is
// indistinguishable from a legitimate empty match.
func EvaluateAdvanced(t *metadata.Table, conditions []Condition, join Join) metadata.View {
	if len(conditions) == 0 {
		return t.All()
	}

	var results []metadata.View
	for _, c := range conditions {
		if !c.valid() {
			continue
		}
		results = append(results, EvaluateSimple(t, c.Field, *c.Value, c.op()))
	}
	if len(results) == 0 {
		return t.Empty()
	}

	switch Join(strings.ToUpper(string(join))) {
	case JoinAnd:
		return intersect(t, results)
	case JoinOr:
		return union(t, results)
	default:
		return t.Empty()
	}
}

// Evaluate runs q against t.
func Evaluate(t *metadata.Table, q Query) metadata.View {
	join := q.Join
	if join == "" {
		join = JoinAnd
	}
	return EvaluateAdvanced(t, q.Conditions, join)
}

func intersect(t *metadata.Table, results []metadata.View) metadata.View {
	keep := results[0].Indices()
	for _, r := range results[1:] {
		in := make(map[int]struct{}, r.Len())
		for _, i := range r.Indices() {
			in[i] = struct{}{}
		}
		next := keep[:0]
		for _, i := range keep {
			if _, ok := in[i]; ok {
				next = append(next, i)
			}
		}
		keep = next
	}
	return metadata.NewView(t, keep)
}

func union(t *metadata.Table, results []metadata.View) metadata.View {
	seen := make(map[int]struct{})
	var rows []int
	for _, r := range results {
		for _, i := range r.Indices() {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			rows = append(rows, i)
		}
	}
	return metadata.NewView(t, rows)
}
