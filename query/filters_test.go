package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDateRange(t *testing.T) {
	tbl := fixture()
	tests := []struct {
		name       string
		field      string
		start, end string
		want       []int
	}{
		{"inclusive bounds", "StudyDate", "20230115", "20230301", []int{0, 1}},
		{"narrow", "StudyDate", "20230201", "20231231", []int{1}},
		{"nothing in range", "StudyDate", "20240101", "20241231", nil},
		{"bad bound", "StudyDate", "2023-01-01", "20231231", nil},
		{"unknown field", "AcquisitionDate", "20230101", "20231231", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DateRange(tbl, tt.field, tt.start, tt.end)
			if tt.want == nil {
				assert.Equal(t, 0, got.Len())
				return
			}
			assert.Equal(t, tt.want, got.Indices())
		})
	}
}

func TestModalities(t *testing.T) {
	tbl := fixture()
	assert.Equal(t, []int{0, 2}, Modalities(tbl, []string{"CT"}).Indices())
	assert.Equal(t, []int{0, 1, 2}, Modalities(tbl, []string{"MR", "CT"}).Indices())
	assert.Equal(t, 0, Modalities(tbl, nil).Len())
	assert.Equal(t, 0, Modalities(tbl, []string{"ct"}).Len())
}
