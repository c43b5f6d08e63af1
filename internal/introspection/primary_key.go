package introspection

// PrimaryKey returns the primary key column names in column order.
func (t *Table) PrimaryKey() []string {
	var cols []string
	for _, col := range t.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col.Name)
		}
	}
	return cols
}

// OrderColumns returns the columns that give the table a stable row order:
// the primary key, or every column when there is none.
func (t *Table) OrderColumns() []string {
	if pk := t.PrimaryKey(); len(pk) > 0 {
		return pk
	}
	return t.ColumnNames()
}
