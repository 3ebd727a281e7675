package store

import "strings"

// upsertSQL builds a single-statement insert that updates the listed
// columns when a row with the same key already exists. Columns absent from
// update keep their stored values.
func upsertSQL(d Driver, table string, cols, keys, update []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	b.WriteString(")")

	sets := make([]string, len(update))
	switch d {
	case DriverMySQL:
		for i, c := range update {
			sets[i] = c + " = VALUES(" + c + ")"
		}
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
	default:
		for i, c := range update {
			sets[i] = c + " = excluded." + c
		}
		b.WriteString(" ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET ")
	}
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// forUpdate is the row-lock suffix for a read inside a read-modify-write
// transaction. sqlite serializes writers on its single connection.
func forUpdate(d Driver) string {
	if d == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}
