package store

import "database/sql"

// DBTX is the query surface shared by *sql.DB and *sql.Tx. Mutating store
// methods that must join an atomic unit take it as their first argument so
// the caller decides the transaction boundary.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}
