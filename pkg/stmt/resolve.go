// Package stmt resolves "^id" stored-statement references against a
// database's name→SQL map.
package stmt

import (
	"strings"

	"github.com/sqliterg/sqliterg-go/pkg/reqres"
)

// Resolve looks up a SQL string beginning with "^" (minus the prefix) in
// stored; otherwise, if onlyStored forbids literal SQL, it is rejected;
// otherwise it is returned verbatim.
func Resolve(sql string, stored map[string]string, onlyStored bool) (string, *reqres.APIError) {
	if strings.HasPrefix(sql, "^") {
		id := sql[1:]
		resolved, ok := stored[id]
		if !ok {
			return "", reqres.NewAPIError(409, "stored statement '%s' does not exist", id)
		}
		return resolved, nil
	}

	if onlyStored {
		return "", reqres.NewAPIError(409, "only stored statements are allowed, and '%s' is not one", sql)
	}

	return sql, nil
}

// ResolveAll resolves every statement in a macro body once at load time, so
// the request plane never re-resolves macro SQL.
func ResolveAll(statements []string, stored map[string]string, onlyStored bool) ([]string, *reqres.APIError) {
	out := make([]string, len(statements))
	for i, s := range statements {
		resolved, err := Resolve(s, stored, onlyStored)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}
