package metadata

import (
	"encoding/json"
	"sort"
	"sync/atomic"
)

// Reserved reference keys. They locate files on disk and are never offered
// as queryable fields.
const (
	FilePath         = "FilePath"
	AlbumFilePath    = "AlbumFilePath"
	OriginalFilePath = "OriginalFilePath"
)

// IsReserved reports whether key is a file reference rather than an attribute.
func IsReserved(key string) bool {
	return key == FilePath || key == AlbumFilePath || key == OriginalFilePath
}

// Record maps attribute names to values for one file.
type Record map[string]Value

// Get returns the named value, or null when absent.
func (r Record) Get(key string) Value {
	if r == nil {
		return Null()
	}
	return r[key]
}

// Path returns the record's file reference, preferring the album copy.
func (r Record) Path() string {
	for _, k := range []string{AlbumFilePath, FilePath, OriginalFilePath} {
		if v, ok := r[k]; ok && v.Kind() == KindString && v.Text() != "" {
			return v.Text()
		}
	}
	return ""
}

// Clone returns a shallow copy of r. Values are immutable so this is safe to
// mutate independently.
func (r Record) Clone() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Without returns a copy of r lacking the given keys.
func (r Record) Without(keys ...string) Record {
	cp := r.Clone()
	for _, k := range keys {
		delete(cp, k)
	}
	return cp
}

// Keys returns the record's attribute names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Table is an immutable, ordered set of records sharing one column schema.
type Table struct {
	columns []string
	index   map[string]int
	rows    []Record
}

// NewTable builds a table whose schema is the union of record keys in
// first-seen order. Keys sorted within a record keep the schema stable for
// records that arrive as Go maps. Missing attributes are filled with null.
func NewTable(records []Record) *Table {
	t := &Table{index: make(map[string]int)}
	for _, r := range records {
		for _, k := range r.Keys() {
			if _, ok := t.index[k]; !ok {
				t.index[k] = len(t.columns)
				t.columns = append(t.columns, k)
			}
		}
	}
	t.rows = make([]Record, len(records))
	for i, r := range records {
		row := make(Record, len(t.columns))
		for _, c := range t.columns {
			row[c] = r[c]
		}
		t.rows[i] = row
	}
	return t
}

// NewTableWithColumns builds a table with an explicit column order.
func NewTableWithColumns(columns []string, records []Record) *Table {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if _, ok := t.index[c]; ok {
			continue
		}
		t.index[c] = len(t.columns)
		t.columns = append(t.columns, c)
	}
	extra := NewTable(records)
	for _, c := range extra.columns {
		if _, ok := t.index[c]; !ok {
			t.index[c] = len(t.columns)
			t.columns = append(t.columns, c)
		}
	}
	t.rows = make([]Record, len(records))
	for i, r := range records {
		row := make(Record, len(t.columns))
		for _, c := range t.columns {
			row[c] = r[c]
		}
		t.rows[i] = row
	}
	return t
}

// Len returns the number of rows; nil tables are empty.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Columns returns the column schema in order.
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	cp := make([]string, len(t.columns))
	copy(cp, t.columns)
	return cp
}

// Fields returns the queryable columns (the schema minus reserved keys).
func (t *Table) Fields() []string {
	var out []string
	for _, c := range t.Columns() {
		if !IsReserved(c) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[name]
	return ok
}

// Row returns the record at i. Callers must not mutate it.
func (t *Table) Row(i int) Record {
	return t.rows[i]
}

// Head returns up to n leading records.
func (t *Table) Head(n int) []Record {
	return t.All().Head(n)
}

// All returns a view containing every row.
func (t *Table) All() View {
	idx := make([]int, t.Len())
	for i := range idx {
		idx[i] = i
	}
	return View{table: t, rows: idx}
}

// Empty returns a view over t with no rows.
func (t *Table) Empty() View {
	return View{table: t}
}

// View is a subset of a table's rows in a specific order. Row identity is
// the index into the underlying table.
type View struct {
	table *Table
	rows  []int
}

// NewView builds a view over t from row indices. Out-of-range indices are
// dropped.
func NewView(t *Table, rows []int) View {
	out := make([]int, 0, len(rows))
	for _, i := range rows {
		if i >= 0 && i < t.Len() {
			out = append(out, i)
		}
	}
	return View{table: t, rows: out}
}

func (v View) Table() *Table { return v.table }
func (v View) Len() int      { return len(v.rows) }

// Indices returns the row identities in view order.
func (v View) Indices() []int {
	cp := make([]int, len(v.rows))
	copy(cp, v.rows)
	return cp
}

// Records returns the view's rows in order.
func (v View) Records() []Record {
	out := make([]Record, len(v.rows))
	for i, r := range v.rows {
		out[i] = v.table.rows[r]
	}
	return out
}

// Head returns up to n leading records of the view.
func (v View) Head(n int) []Record {
	if n < 0 || n > len(v.rows) {
		n = len(v.rows)
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = v.table.rows[v.rows[i]]
	}
	return out
}

// FilePaths returns each row's file reference in view order, skipping rows
// without one.
func (v View) FilePaths() []string {
	var out []string
	for _, r := range v.rows {
		if p := v.table.rows[r].Path(); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MarshalJSON encodes the view as a list of records.
func (v View) MarshalJSON() ([]byte, error) {
	recs := v.Records()
	if recs == nil {
		recs = []Record{}
	}
	return json.Marshal(recs)
}

// Session holds the process-wide current table. Replace swaps in a fully
// built table; readers always see either the old or the new table.
type Session struct {
	current atomic.Pointer[Table]
}

// Replace installs t as the current table and returns the previous one.
func (s *Session) Replace(t *Table) *Table {
	return s.current.Swap(t)
}

// Current returns the current table snapshot, or nil if nothing is loaded.
func (s *Session) Current() *Table {
	return s.current.Load()
}

// Loaded reports whether a non-empty table is installed.
func (s *Session) Loaded() bool {
	return s.Current().Len() > 0
}
