package schema

import (
	"fmt"
	"strings"
)

// Summaries returns one "name: description" line per table.
// This is the compact listing shown to the model during table selection.
func (s *Snapshot) Summaries() string {
	var sb strings.Builder
	for _, t := range s.tables {
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatForPrompt renders the given tables as schema text for the SQL
// generation prompt. Columns carry type, nullability, primary key marking,
// and foreign key targets so the model can produce correct joins.
func FormatForPrompt(tables []Table) string {
	var sb strings.Builder
	for i, t := range tables {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("Table ")
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(" -- ")
			sb.WriteString(t.Description)
		}
		sb.WriteByte('\n')

		for _, col := range t.Columns {
			nullable := "NOT NULL"
			if col.Nullable {
				nullable = "NULL"
			}
			fmt.Fprintf(&sb, "  %s %s %s", col.Name, col.DataType, nullable)
			if col.PrimaryKey {
				sb.WriteString(" PRIMARY KEY")
			}
			if col.ForeignKey != nil {
				fmt.Fprintf(&sb, " REFERENCES %s(%s)", col.ForeignKey.Table, col.ForeignKey.Column)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
