// Package models - table_ref.go defines TableRef, one row of
// information_schema.tables as returned by schema introspection.
package models

// TableRef identifies an existing table
type TableRef struct {
	Schema string `db:"table_schema" json:"table_schema,omitempty"`
	Name   string `db:"table_name" json:"table_name"`
}

// String returns the schema-qualified name
func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}
