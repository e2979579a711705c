// Package backup snapshots a database file via SQLite's VACUUM INTO,
// whether triggered at creation/startup, on a timer, or via the web
// service, and sweeps the backup directory down to the configured
// retention count afterward.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sqliterg/sqliterg-go/pkg/commons"
	"github.com/sqliterg/sqliterg-go/pkg/config"
	"github.com/sqliterg/sqliterg-go/pkg/dbh"
	"github.com/sqliterg/sqliterg-go/pkg/reqres"
)

const timestampLayout = "20060102-1504"

// TargetPath builds the "<stem>_<YYYYMMDD-HHMM>[.ext]" backup filename for
// stem (the database's base name, without directory or extension) inside
// cfg.BackupDir, stamped with now.
func TargetPath(cfg *config.Backup, stem, ext string, now time.Time) string {
	name := fmt.Sprintf("%s_%s", stem, now.Format(timestampLayout))
	if ext != "" {
		name += ext
	}
	return filepath.Join(cfg.BackupDir, name)
}

// Run performs one backup of db into its configured backup directory,
// locking db for the duration of the VACUUM INTO, then retains only the
// num_files most recent files in that directory. If the target file already
// exists, Run returns a 409 *reqres.APIError without touching the database.
func Run(db *dbh.Db, now time.Time) error {
	cfg := db.Config.Backup
	if cfg == nil {
		return reqres.NewAPIError(500, "database %q has no backup configuration", db.Name)
	}

	stem, ext := stemAndExt(db)
	target := TargetPath(cfg, stem, ext, now)

	if _, err := os.Stat(target); err == nil {
		return reqres.NewAPIError(409, "File %q already exists", target)
	} else if !os.IsNotExist(err) {
		return reqres.NewAPIError(500, "failed to stat backup target %q: %s", target, err.Error())
	}

	db.Mutex.Lock()
	_, err := db.Conn.Exec(fmt.Sprintf("VACUUM INTO '%s'", escapeSingleQuotes(target)))
	db.Mutex.Unlock()
	if err != nil {
		return reqres.NewAPIError(500, "backup of %q failed: %s", db.Name, err.Error())
	}

	if err := commons.Retain(cfg.BackupDir, cfg.NumFiles); err != nil {
		return reqres.NewAPIError(500, "database %q backed up but retention sweep failed: %s", db.Name, err.Error())
	}
	return nil
}

func stemAndExt(db *dbh.Db) (stem, ext string) {
	if db.Kind == dbh.KindMemory || db.Path == "" {
		return db.Name, ""
	}
	base := filepath.Base(db.Path)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// RunPeriodic starts a ticker that runs Run every period_minutes until ctx
// is cancelled, reporting each run's outcome via onResult (typically a
// logger). It registers itself on wg so callers can wait for a clean exit.
func RunPeriodic(ctx context.Context, wg *sync.WaitGroup, db *dbh.Db, periodMinutes int, onResult func(err error)) {
	if periodMinutes <= 0 {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(periodMinutes) * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := Run(db, time.Now())
				if onResult != nil {
					onResult(err)
				}
			}
		}
	}()
}
