package metadata

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueText(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"string", String("CT"), "CT"},
		{"integral number", Number(7), "7.0"},
		{"fraction", Number(2.5), "2.5"},
		{"negative", Number(-120.25), "-120.25"},
		{"small", Number(0.00001), "1e-05"},
		{"large", Number(1e20), "1e+20"},
		{"list", List("ORIGINAL", "PRIMARY"), "['ORIGINAL', 'PRIMARY']"},
		{"empty list", List(), "[]"},
		{"null", Null(), "None"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Text())
		})
	}
}

func TestValueFloat(t *testing.T) {
	tests := []struct {
		name   string
		v      Value
		want   float64
		wantOK bool
	}{
		{"number", Number(3), 3, true},
		{"numeric string", String("30"), 30, true},
		{"padded string", String(" 1.5 "), 1.5, true},
		{"word", String("thirty"), 0, false},
		{"null", Null(), 0, false},
		{"list", List("1", "2"), 0, false},
		{"nan string", String("nan"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.Float()
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValueJSON(t *testing.T) {
	rec := Record{
		"Modality":   String("MR"),
		"SliceLoc":   Number(-12.5),
		"ImageType":  List("DERIVED", "SECONDARY"),
		"PatientSex": Null(),
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Modality":"MR","SliceLoc":-12.5,"ImageType":["DERIVED","SECONDARY"],"PatientSex":null}`, string(data))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	for k, v := range rec {
		assert.Truef(t, v.Equal(back[k]), "field %s: got %v", k, back[k].Text())
	}
}

func TestNewTableFillsMissingColumns(t *testing.T) {
	tbl := NewTable([]Record{
		{"Modality": String("CT"), FilePath: String("/a.dcm")},
		{"PatientID": String("p2")},
	})

	assert.Equal(t, 2, tbl.Len())
	assert.ElementsMatch(t, []string{"Modality", FilePath, "PatientID"}, tbl.Columns())
	assert.ElementsMatch(t, []string{"Modality", "PatientID"}, tbl.Fields())
	assert.True(t, tbl.Row(1).Get("Modality").IsNull())
	_, present := tbl.Row(1)["Modality"]
	assert.True(t, present, "missing attribute should be an explicit null")
}

func TestNewTableWithColumnsKeepsOrder(t *testing.T) {
	tbl := NewTableWithColumns([]string{"B", "A"}, []Record{{"A": String("1"), "C": String("x")}})
	assert.Equal(t, []string{"B", "A", "C"}, tbl.Columns())
}

func TestViewOrderingAndPaths(t *testing.T) {
	tbl := NewTable([]Record{
		{FilePath: String("/0.dcm")},
		{FilePath: String("/1.dcm")},
		{FilePath: Null()},
	})
	v := NewView(tbl, []int{2, 0, 7, -1})
	assert.Equal(t, []int{2, 0}, v.Indices())
	assert.Equal(t, []string{"/0.dcm"}, v.FilePaths())
	assert.Len(t, v.Head(1), 1)
	assert.Len(t, tbl.All().Head(10), 3)
	assert.Equal(t, 0, tbl.Empty().Len())
}

func TestRecordPathPrefersAlbumCopy(t *testing.T) {
	r := Record{FilePath: String("/src.dcm"), AlbumFilePath: String("/album/1_src.dcm")}
	assert.Equal(t, "/album/1_src.dcm", r.Path())
	assert.Equal(t, "/src.dcm", r.Without(AlbumFilePath).Path())
}

func TestSessionReplaceIsAtomic(t *testing.T) {
	var s Session
	assert.Nil(t, s.Current())
	assert.False(t, s.Loaded())

	small := NewTable([]Record{{"A": String("1")}})
	big := NewTable([]Record{{"A": String("1")}, {"A": String("2")}})
	s.Replace(small)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				s.Replace(big)
				return
			}
			n := s.Current().Len()
			if n != 1 && n != 2 {
				t.Errorf("observed torn table with %d rows", n)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 2, s.Current().Len())
}
