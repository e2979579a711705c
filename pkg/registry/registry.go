// Package registry discovers, opens and wires up every database named on
// the command line: it loads each one's companion config, opens its SQLite
// connection, resolves stored statements and macros, runs creation/startup
// triggers, and starts periodic macro/backup workers.
package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sqliterg/sqliterg-go/pkg/backup"
	"github.com/sqliterg/sqliterg-go/pkg/commons"
	"github.com/sqliterg/sqliterg-go/pkg/config"
	"github.com/sqliterg/sqliterg-go/pkg/dbh"
	"github.com/sqliterg/sqliterg-go/pkg/macro"
	"github.com/sqliterg/sqliterg-go/pkg/stmt"
)

// Registry is every database known to this process, keyed by name, plus
// the machinery to stop their periodic workers and close their
// connections on shutdown.
type Registry struct {
	DBs map[string]*dbh.Db

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Lookup returns the database registered under name, if any.
func (r *Registry) Lookup(name string) (*dbh.Db, bool) {
	db, ok := r.DBs[name]
	return db, ok
}

// Shutdown stops every periodic worker and closes every SQLite connection.
func (r *Registry) Shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	for _, db := range r.DBs {
		_ = db.Conn.Close()
	}
}

// Load opens every file- and memory-backed database named in cfg and
// brings each one fully online: config, connection, stored statements,
// macros, creation/startup triggers and periodic workers.
func Load(cfg *config.ServerConfig) (*Registry, error) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registry{DBs: map[string]*dbh.Db{}, cancel: cancel}

	fail := func(err error) (*Registry, error) {
		reg.Shutdown()
		return nil, err
	}

	for _, spec := range cfg.DBs {
		db, err := loadFileDb(spec)
		if err != nil {
			return fail(err)
		}
		if err := installAndStart(ctx, &reg.wg, reg, db); err != nil {
			_ = db.Conn.Close()
			return fail(err)
		}
	}

	for _, spec := range cfg.MemDBs {
		db, err := loadMemDb(spec)
		if err != nil {
			return fail(err)
		}
		if err := installAndStart(ctx, &reg.wg, reg, db); err != nil {
			_ = db.Conn.Close()
			return fail(err)
		}
	}

	return reg, nil
}

func loadFileDb(spec config.DBSpec) (*dbh.Db, error) {
	dbPath, err := commons.ExpandHome(spec.DBPath)
	if err != nil {
		return nil, err
	}
	dbPath, err = filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for %q: %w", spec.DBPath, err)
	}

	yamlPath := spec.YAMLPath
	if yamlPath == "" {
		yamlPath = defaultCompanionPath(dbPath)
	}

	cfg, err := config.Load(yamlPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("invalid configuration for %q: %w", dbPath, err)
	}

	name := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
	isNew := !commons.FileExists(dbPath)

	conn, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", dbPath, err)
	}
	// db.Mutex is the sole synchronization primitive guarding this
	// connection; capping the pool at one open connection makes that
	// guarantee hold even if a caller bypasses the mutex.
	conn.SetMaxOpenConns(1)

	db := &dbh.Db{Name: name, Kind: dbh.KindFile, Path: dbPath, IsNew: isNew, Conn: conn}
	if err := finishLoading(db, cfg, isNew); err != nil {
		_ = conn.Close()
		if isNew {
			_ = os.Remove(dbPath)
		}
		return nil, err
	}
	return db, nil
}

func loadMemDb(spec config.MemDBSpec) (*dbh.Db, error) {
	cfg, err := config.Load(spec.YAMLPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(""); err != nil {
		return nil, fmt.Errorf("invalid configuration for in-memory database %q: %w", spec.ID, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", spec.ID)
	conn, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database %q: %w", spec.ID, err)
	}
	// A shared-cache in-memory database is kept alive only while at least
	// one connection is open; without this the pool could close the sole
	// connection between requests and silently drop all data.
	conn.SetMaxIdleConns(1)
	conn.SetMaxOpenConns(1)

	db := &dbh.Db{Name: spec.ID, Kind: dbh.KindMemory, IsNew: true, Conn: conn}
	if err := finishLoading(db, cfg, true); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func defaultCompanionPath(dbPath string) string {
	ext := filepath.Ext(dbPath)
	return strings.TrimSuffix(dbPath, ext) + ".yaml"
}

// finishLoading applies pragmas, resolves stored statements and macros,
// and runs the on_create/on_startup triggers, in that order.
func finishLoading(db *dbh.Db, cfg *config.DbConfig, isNew bool) error {
	db.Config = cfg

	if _, err := db.Conn.Exec("PRAGMA journal_mode = " + cfg.JournalModeOrDefault()); err != nil {
		return fmt.Errorf("failed to set journal_mode for %q: %w", db.Name, err)
	}
	if cfg.ReadOnly {
		if _, err := db.Conn.Exec("PRAGMA query_only = ON"); err != nil {
			return fmt.Errorf("failed to set query_only for %q: %w", db.Name, err)
		}
	}

	stored := make(map[string]string, len(cfg.StoredStatements))
	for _, s := range cfg.StoredStatements {
		stored[s.ID] = s.SQL
	}
	db.StoredStatements = stored

	macros := make(map[string]*dbh.ResolvedMacro, len(cfg.Macros))
	for _, m := range cfg.Macros {
		resolved, apiErr := stmt.ResolveAll(m.Statements, stored, cfg.UseOnlyStoredStatements)
		if apiErr != nil {
			return fmt.Errorf("macro %q: %s", m.ID, apiErr.Message)
		}
		macros[m.ID] = &dbh.ResolvedMacro{Config: m, Statements: resolved}
	}
	db.Macros = macros

	if isNew {
		if err := runTriggered(db, func(e config.Execution) bool { return e.OnCreate }); err != nil {
			return fmt.Errorf("creation trigger failed for %q: %w", db.Name, err)
		}
	}
	if err := runTriggered(db, func(e config.Execution) bool { return e.OnStartup }); err != nil {
		return fmt.Errorf("startup trigger failed for %q: %w", db.Name, err)
	}

	return nil
}

func runTriggered(db *dbh.Db, want func(config.Execution) bool) error {
	for _, m := range db.Macros {
		if want(m.Config.Execution) {
			if _, err := macro.Execute(db, m); err != nil {
				return fmt.Errorf("macro %q: %w", m.Config.ID, err)
			}
		}
	}
	if db.Config.Backup != nil && want(db.Config.Backup.Execution) {
		if err := backup.Run(db, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func installAndStart(ctx context.Context, wg *sync.WaitGroup, reg *Registry, db *dbh.Db) error {
	if _, exists := reg.DBs[db.Name]; exists {
		return fmt.Errorf("duplicate database name %q", db.Name)
	}
	reg.DBs[db.Name] = db

	for _, m := range db.Macros {
		macro.RunPeriodic(ctx, wg, db, m, func(macroID string, err error) {
			if err != nil {
				log.Printf("⚠️ periodic macro %q on %q failed: %v", macroID, db.Name, err)
			}
		})
	}
	if db.Config.Backup != nil {
		backup.RunPeriodic(ctx, wg, db, db.Config.Backup.Execution.PeriodMinutes, func(err error) {
			if err != nil {
				log.Printf("⚠️ periodic backup of %q failed: %v", db.Name, err)
			}
		})
	}

	return nil
}
