// Package macro executes a database's named statement sequences, whether
// triggered at creation/startup, on a timer, or via the web service.
package macro

import (
	"context"
	"sync"
	"time"

	"github.com/sqliterg/sqliterg-go/pkg/dbh"
	"github.com/sqliterg/sqliterg-go/pkg/reqres"
)

// Execute runs m's statements against db, sequentially in the order they
// were declared. Unless disable_transaction is set, all statements run
// inside one SQLite transaction and are rolled back together on the first
// failure; with disable_transaction, each statement commits independently
// and a later failure does not undo earlier ones.
func Execute(db *dbh.Db, m *dbh.ResolvedMacro) (*reqres.Response, error) {
	db.Mutex.Lock()
	defer db.Mutex.Unlock()

	if m.Config.DisableTransaction {
		return executeSequential(db, m)
	}
	return executeTransactional(db, m)
}

func executeTransactional(db *dbh.Db, m *dbh.ResolvedMacro) (*reqres.Response, error) {
	tx, err := db.Conn.Beginx()
	if err != nil {
		return nil, err
	}

	results := make([]reqres.ResponseItem, 0, len(m.Statements))
	for _, sqlText := range m.Statements {
		res, err := tx.Exec(sqlText)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		n, _ := res.RowsAffected()
		results = append(results, reqres.ResponseItem{Success: true, RowsUpdated: &n})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	resp := reqres.NewOK(results)
	return &resp, nil
}

func executeSequential(db *dbh.Db, m *dbh.ResolvedMacro) (*reqres.Response, error) {
	results := make([]reqres.ResponseItem, 0, len(m.Statements))
	for _, sqlText := range m.Statements {
		res, err := db.Conn.Exec(sqlText)
		if err != nil {
			return nil, err
		}
		n, _ := res.RowsAffected()
		results = append(results, reqres.ResponseItem{Success: true, RowsUpdated: &n})
	}
	resp := reqres.NewOK(results)
	return &resp, nil
}

// RunPeriodic starts a ticker that executes m every period_minutes until ctx
// is cancelled, reporting each run's outcome via onResult (typically a
// logger). It registers itself on wg so callers can wait for a clean exit.
func RunPeriodic(ctx context.Context, wg *sync.WaitGroup, db *dbh.Db, m *dbh.ResolvedMacro, onResult func(macroID string, err error)) {
	if m.Config.Execution.PeriodMinutes <= 0 {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(m.Config.Execution.PeriodMinutes) * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := Execute(db, m)
				if onResult != nil {
					onResult(m.Config.ID, err)
				}
			}
		}
	}()
}
