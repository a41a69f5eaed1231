// Package metadata holds the in-memory representation of extracted DICOM
// attributes: a tagged Value per field, records keyed by attribute name and
// immutable tables of records.
package metadata

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is one attribute value: a string, a number, an ordered list of
// strings (multi-valued attributes) or null. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	list []string
}

func Null() Value            { return Value{} }
func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// List copies items into a list Value.
func List(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Items returns a copy of the list elements, or nil for non-list values.
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp
}

// Text is the string representation every string-based operator compares
// against. Numbers keep a trailing ".0" when integral, lists render as
// ['a', 'b'] and null renders as None.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return FormatNumber(v.num)
	case KindList:
		var b strings.Builder
		b.WriteByte('[')
		for i, s := range v.list {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('\'')
			b.WriteString(s)
			b.WriteByte('\'')
		}
		b.WriteByte(']')
		return b.String()
	default:
		return "None"
	}
}

// Float coerces the value to a number. Strings are parsed after trimming
// whitespace; null, lists and unparsable strings report false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, !math.IsNaN(v.num)
	case KindString:
		f, err := ParseNumber(v.str)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// First returns the first element of a list, or the value itself.
func (v Value) First() Value {
	if v.kind == KindList {
		if len(v.list) == 0 {
			return Null()
		}
		return String(v.list[0])
	}
	return v
}

// Equal reports whether two values hold the same variant and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// ParseNumber parses a numeric literal the way the query engine does.
func ParseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// FormatNumber renders f in shortest round-trip form, keeping ".0" on
// integral values and switching to exponent notation for very large or
// very small magnitudes.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "decode string value")
		}
		*v = String(s)
	case '[':
		var raw []interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return errors.Wrap(err, "decode list value")
		}
		items := make([]string, 0, len(raw))
		for _, r := range raw {
			switch x := r.(type) {
			case string:
				items = append(items, x)
			case float64:
				items = append(items, strconv.FormatFloat(x, 'f', -1, 64))
			case nil:
				items = append(items, "None")
			default:
				b, _ := json.Marshal(x)
				items = append(items, string(b))
			}
		}
		*v = List(items...)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return errors.Wrap(err, "decode bool value")
		}
		*v = String(strconv.FormatBool(b))
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return errors.Wrap(err, "decode number value")
		}
		*v = Number(f)
	}
	return nil
}
