package snapshot

import "sort"

// Row is one long-form record: (tick, category, key, value).
type Row struct {
	Tick     int64
	Category Category
	Key      string
	Value    any
}

// Column identifies one wide-table column.
type Column struct {
	Category Category
	Key      string
}

// Rows flattens the store into long form, ordered by tick, category, key.
func (s *Store) Rows() []Row {
	var rows []Row
	for _, tick := range s.Ticks() {
		byCat := s.data[tick]
		cats := make([]Category, 0, len(byCat))
		for c := range byCat {
			cats = append(cats, c)
		}
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		for _, cat := range cats {
			for _, key := range s.Keys(tick, cat) {
				rows = append(rows, Row{Tick: tick, Category: cat, Key: key, Value: byCat[cat][key]})
			}
		}
	}
	return rows
}

// Table is the wide pivot of numeric rows: one row per tick, one column
// per (category, key).
type Table struct {
	Columns []Column
	Ticks   []int64
	cells   map[int64]map[Column]float64
}

// Pivot builds a wide table from long-form rows. Only numeric values enter
// the table; duplicate (tick, column) cells are summed.
func Pivot(rows []Row) *Table {
	t := &Table{cells: make(map[int64]map[Column]float64)}
	seenCol := make(map[Column]bool)
	for _, r := range rows {
		v, ok := toFloat(r.Value)
		if !ok {
			continue
		}
		col := Column{Category: r.Category, Key: r.Key}
		if !seenCol[col] {
			seenCol[col] = true
			t.Columns = append(t.Columns, col)
		}
		row, ok := t.cells[r.Tick]
		if !ok {
			row = make(map[Column]float64)
			t.cells[r.Tick] = row
			t.Ticks = append(t.Ticks, r.Tick)
		}
		row[col] += v
	}
	sort.Slice(t.Ticks, func(i, j int) bool { return t.Ticks[i] < t.Ticks[j] })
	sort.Slice(t.Columns, func(i, j int) bool {
		if t.Columns[i].Category != t.Columns[j].Category {
			return t.Columns[i].Category < t.Columns[j].Category
		}
		return t.Columns[i].Key < t.Columns[j].Key
	})
	return t
}

// Cell returns the aggregated value at (tick, col).
func (t *Table) Cell(tick int64, col Column) (float64, bool) {
	row, ok := t.cells[tick]
	if !ok {
		return 0, false
	}
	v, ok := row[col]
	return v, ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
