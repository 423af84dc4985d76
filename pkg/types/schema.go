package types

// Column types understood by the engine. They are SQLite storage classes.
const (
	TypeText    = "TEXT"
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
)

// Schema defines the columns of a staging table loaded from JSON.
type Schema struct {
	// Table is the staging table name
	Table string `json:"table"`

	// Columns defines the columns in load order
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef maps one JSON key onto one staging column.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Source is the JSON key the value is read from (defaults to Name)
	Source string `json:"source,omitempty"`

	// Type is the SQLite type: TEXT, INTEGER, REAL
	Type string `json:"type"`

	// Required means the key must appear in at least one input record.
	// Individual records may still omit it or carry null.
	Required bool `json:"required"`
}

// SourceKey returns the JSON key for the column.
func (c ColumnDef) SourceKey() string {
	if c.Source != "" {
		return c.Source
	}
	return c.Name
}

// ColumnNames returns the column names in order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
