// Package db owns the catalog's sqlite schema.
package db

import (
	"database/sql"
	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Open opens (creating if necessary) the catalog database at path. Use
// ":memory:" for an ephemeral database.
func Open(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = database.Exec(schema)
	if err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
