package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Query
	}{
		{
			name:  "empty",
			input: "   ",
			want:  Query{Join: JoinAnd},
		},
		{
			name:  "colon equality",
			input: "Modality:CT",
			want:  Query{Conditions: []Condition{Cond("Modality", OpEqual, "CT")}, Join: JoinAnd},
		},
		{
			name:  "symbols and AND",
			input: `Modality = CT AND Age >= 30`,
			want: Query{Conditions: []Condition{
				Cond("Modality", OpEqual, "CT"),
				Cond("Age", OpGreaterEq, "30"),
			}, Join: JoinAnd},
		},
		{
			name:  "word operators and OR",
			input: `PatientName contains "doe john" or PatientID STARTS_WITH P0`,
			want: Query{Conditions: []Condition{
				Cond("PatientName", OpContains, "doe john"),
				Cond("PatientID", OpStartsWith, "P0"),
			}, Join: JoinOr},
		},
		{
			name:  "implicit AND",
			input: `Modality:MR PatientSex!=F`,
			want: Query{Conditions: []Condition{
				Cond("Modality", OpEqual, "MR"),
				Cond("PatientSex", OpNotEqual, "F"),
			}, Join: JoinAnd},
		},
		{
			name:  "negative and dotted values",
			input: `SliceLocation < -10.5 AND SOPInstanceUID = 1.2.840.113619`,
			want: Query{Conditions: []Condition{
				Cond("SliceLocation", OpLess, "-10.5"),
				Cond("SOPInstanceUID", OpEqual, "1.2.840.113619"),
			}, Join: JoinAnd},
		},
		{
			name:  "quoted regex",
			input: `StudyDescription regex "^CHEST.*"`,
			want:  Query{Conditions: []Condition{Cond("StudyDescription", OpRegex, "^CHEST.*")}, Join: JoinAnd},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"mixed joins", "Modality:CT AND Age>3 OR PatientSex:M"},
		{"parentheses", "(Modality:CT OR Modality:MR)"},
		{"trailing parenthesis", "Modality:CT )"},
		{"missing operator", "Modality"},
		{"unknown word operator", "Modality like CT"},
		{"missing value", "Modality ="},
		{"dangling join", "Modality:CT AND"},
		{"lone bang", "Modality ! CT"},
		{"unterminated string", `PatientName contains "DOE`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.Error(t, err)
		})
	}
}
