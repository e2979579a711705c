// Package txn is the transaction processor: it runs an ordered list of
// queries/statements inside one SQLite transaction, honoring each item's
// noFail policy, and shapes the result into the wire response envelope.
package txn

import (
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/sqliterg/sqliterg-go/pkg/dbh"
	"github.com/sqliterg/sqliterg-go/pkg/reqres"
	"github.com/sqliterg/sqliterg-go/pkg/stmt"
)

const errNeitherPositionalNorNamed = "Values are neither positional nor named"

// Process runs req's transaction against db, inside a single SQLite
// transaction guarded by db.Mutex. On the first item failure not marked
// noFail, the whole transaction is rolled back and the failure is returned
// as the envelope-level error; otherwise every item's outcome (success or
// recorded failure) is committed and returned as the response.
func Process(db *dbh.Db, req *reqres.Request) (*reqres.Response, *reqres.APIError) {
	db.Mutex.Lock()
	defer db.Mutex.Unlock()

	tx, err := db.Conn.Beginx()
	if err != nil {
		return nil, reqres.NewAPIError(500, "failed to begin transaction: %s", err.Error())
	}

	results := make([]reqres.ResponseItem, 0, len(req.Transaction))
	for i := range req.Transaction {
		item := &req.Transaction[i]

		result, itemErr := processItem(tx, db, i, item)
		if itemErr == nil {
			results = append(results, *result)
			continue
		}

		if !item.NoFail {
			_ = tx.Rollback()
			return nil, itemErr
		}
		results = append(results, reqres.ResponseItem{Success: false, Error: itemErr.Message})
	}

	if err := tx.Commit(); err != nil {
		return nil, reqres.NewAPIError(500, "failed to commit transaction: %s", err.Error())
	}

	resp := reqres.NewOK(results)
	return &resp, nil
}

func processItem(tx *sqlx.Tx, db *dbh.Db, idx int, item *reqres.TransactionItem) (*reqres.ResponseItem, *reqres.APIError) {
	hasQuery := item.Query != nil
	hasStatement := item.Statement != nil
	if hasQuery == hasStatement {
		return nil, reqres.NewItemError(400, idx, "exactly one of 'query' and 'statement' must be provided")
	}

	if hasQuery {
		if len(item.ValuesBatch) > 0 {
			return nil, reqres.NewItemError(400, idx, "'query' cannot be combined with 'valuesBatch'")
		}
		return processQuery(tx, db, idx, *item.Query, item.Values)
	}

	if len(item.Values) > 0 && len(item.ValuesBatch) > 0 {
		return nil, reqres.NewItemError(400, idx, "at most one of 'values' and 'valuesBatch' must be provided")
	}

	sqlText, resErr := stmt.Resolve(*item.Statement, db.StoredStatements, db.Config.UseOnlyStoredStatements)
	if resErr != nil {
		resErr.ReqIdx = idx
		return nil, resErr
	}

	if len(item.ValuesBatch) > 0 {
		return execBatch(tx, idx, sqlText, item.ValuesBatch)
	}
	return execStatement(tx, idx, sqlText, item.Values)
}

func processQuery(tx *sqlx.Tx, db *dbh.Db, idx int, query string, values json.RawMessage) (*reqres.ResponseItem, *reqres.APIError) {
	sqlText, resErr := stmt.Resolve(query, db.StoredStatements, db.Config.UseOnlyStoredStatements)
	if resErr != nil {
		resErr.ReqIdx = idx
		return nil, resErr
	}

	named, positional, err := reqres.ParseValues(values)
	if err != nil {
		return nil, reqres.NewItemError(500, idx, "%s", err.Error())
	}

	var rows *sqlx.Rows
	switch {
	case len(values) == 0:
		rows, err = tx.Queryx(sqlText)
	case named != nil:
		bound, berr := reqres.NamedDriverValues(named)
		if berr != nil {
			return nil, reqres.NewItemError(500, idx, "%s", berr.Error())
		}
		rows, err = tx.NamedQuery(sqlText, bound)
	case positional != nil:
		bound, berr := reqres.PositionalDriverValues(positional)
		if berr != nil {
			return nil, reqres.NewItemError(500, idx, "%s", berr.Error())
		}
		rows, err = tx.Queryx(sqlText, bound...)
	default:
		return nil, reqres.NewItemError(500, idx, errNeitherPositionalNorNamed)
	}
	if err != nil {
		return nil, reqres.NewItemError(500, idx, "%s", err.Error())
	}
	defer rows.Close()

	resultSet := make([]reqres.JSONRow, 0)
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, reqres.NewItemError(500, idx, "%s", err.Error())
		}
		resultSet = append(resultSet, reqres.RowToJSON(row))
	}
	if err := rows.Err(); err != nil {
		return nil, reqres.NewItemError(500, idx, "%s", err.Error())
	}

	return &reqres.ResponseItem{Success: true, ResultSet: resultSet}, nil
}

func execStatement(tx *sqlx.Tx, idx int, sqlText string, values json.RawMessage) (*reqres.ResponseItem, *reqres.APIError) {
	if len(values) == 0 {
		res, err := tx.Exec(sqlText)
		if err != nil {
			return nil, reqres.NewItemError(500, idx, "%s", err.Error())
		}
		n, _ := res.RowsAffected()
		return &reqres.ResponseItem{Success: true, RowsUpdated: &n}, nil
	}

	named, positional, err := reqres.ParseValues(values)
	if err != nil {
		return nil, reqres.NewItemError(500, idx, "%s", err.Error())
	}

	var res sql.Result
	switch {
	case named != nil:
		bound, berr := reqres.NamedDriverValues(named)
		if berr != nil {
			return nil, reqres.NewItemError(500, idx, "%s", berr.Error())
		}
		res, err = tx.NamedExec(sqlText, bound)
	case positional != nil:
		bound, berr := reqres.PositionalDriverValues(positional)
		if berr != nil {
			return nil, reqres.NewItemError(500, idx, "%s", berr.Error())
		}
		res, err = tx.Exec(sqlText, bound...)
	default:
		return nil, reqres.NewItemError(500, idx, errNeitherPositionalNorNamed)
	}
	if err != nil {
		return nil, reqres.NewItemError(500, idx, "%s", err.Error())
	}
	n, _ := res.RowsAffected()
	return &reqres.ResponseItem{Success: true, RowsUpdated: &n}, nil
}

func execBatch(tx *sqlx.Tx, idx int, sqlText string, batch []json.RawMessage) (*reqres.ResponseItem, *reqres.APIError) {
	if len(batch) == 0 {
		return &reqres.ResponseItem{Success: true, RowsUpdatedBatch: []int64{}}, nil
	}

	named0, positional0, err := reqres.ParseValues(batch[0])
	if err != nil {
		return nil, reqres.NewItemError(500, idx, "%s", err.Error())
	}

	rowsBatch := make([]int64, 0, len(batch))

	switch {
	case named0 != nil:
		prepared, perr := tx.PrepareNamed(sqlText)
		if perr != nil {
			return nil, reqres.NewItemError(500, idx, "%s", perr.Error())
		}
		defer prepared.Close()
		for _, raw := range batch {
			named, _, derr := reqres.ParseValues(raw)
			if derr != nil || named == nil {
				return nil, reqres.NewItemError(500, idx, errNeitherPositionalNorNamed)
			}
			bound, berr := reqres.NamedDriverValues(named)
			if berr != nil {
				return nil, reqres.NewItemError(500, idx, "%s", berr.Error())
			}
			res, eerr := prepared.Exec(bound)
			if eerr != nil {
				return nil, reqres.NewItemError(500, idx, "%s", eerr.Error())
			}
			n, _ := res.RowsAffected()
			rowsBatch = append(rowsBatch, n)
		}
	case positional0 != nil:
		prepared, perr := tx.Preparex(sqlText)
		if perr != nil {
			return nil, reqres.NewItemError(500, idx, "%s", perr.Error())
		}
		defer prepared.Close()
		for _, raw := range batch {
			_, positional, derr := reqres.ParseValues(raw)
			if derr != nil || positional == nil {
				return nil, reqres.NewItemError(500, idx, errNeitherPositionalNorNamed)
			}
			bound, berr := reqres.PositionalDriverValues(positional)
			if berr != nil {
				return nil, reqres.NewItemError(500, idx, "%s", berr.Error())
			}
			res, eerr := prepared.Exec(bound...)
			if eerr != nil {
				return nil, reqres.NewItemError(500, idx, "%s", eerr.Error())
			}
			n, _ := res.RowsAffected()
			rowsBatch = append(rowsBatch, n)
		}
	default:
		return nil, reqres.NewItemError(500, idx, errNeitherPositionalNorNamed)
	}

	return &reqres.ResponseItem{Success: true, RowsUpdatedBatch: rowsBatch}, nil
}
