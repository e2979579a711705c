// Package dbh holds the authoritative per-database record and the shared
// low-level type every other package builds on: the registry populates it,
// the transaction processor and macro/backup engines operate on it, and the
// HTTP surface looks databases up by name in it.
package dbh

import (
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/sqliterg/sqliterg-go/pkg/config"
)

// Kind distinguishes a file-backed database from an in-memory one.
type Kind int

const (
	KindFile Kind = iota
	KindMemory
)

// ResolvedMacro is a config.Macro whose statements have already been run
// through stored-statement resolution at load time.
type ResolvedMacro struct {
	Config     config.Macro
	Statements []string
}

// Db is one database entry: exactly one SQLite connection guarded by one
// mutex, plus its frozen-at-load configuration, stored statements and
// macros.
type Db struct {
	Name  string
	Kind  Kind
	Path  string // absolute filesystem path; empty for in-memory DBs
	IsNew bool   // true if the file did not exist before startup (always true for in-memory)

	Config           *config.DbConfig
	StoredStatements map[string]string
	Macros           map[string]*ResolvedMacro

	Conn  *sqlx.DB
	Mutex sync.Mutex
}

// MacroByID looks up a resolved macro by its configured id.
func (db *Db) MacroByID(id string) (*ResolvedMacro, bool) {
	m, ok := db.Macros[id]
	return m, ok
}
