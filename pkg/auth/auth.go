// Package auth resolves a request's credentials against a database's Auth
// configuration, either a static credentials list or a parameterized SQL
// probe.
package auth

import (
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/sqliterg/sqliterg-go/pkg/commons"
	"github.com/sqliterg/sqliterg-go/pkg/config"
	"github.com/sqliterg/sqliterg-go/pkg/reqres"
)

// CheckPassword applies the check_password rule: a credential entry with
// neither plain nor hashed password configured accepts any password, a
// plain password is compared verbatim, and a hashed password is compared
// as the hex-encoded SHA-256 of the given password (case-insensitively).
func CheckPassword(given string, plain, hashed *string) bool {
	if plain == nil && hashed == nil {
		return true
	}
	if plain != nil {
		return *plain == given
	}
	return commons.EqualCaseInsensitive(*hashed, commons.Sha256Hex(given))
}

// Authenticate extracts (user, password) per the configured mode, then
// resolves either against by_credentials or by_query. tx is used only for
// the by_query probe; it may be nil when the auth policy uses
// by_credentials.
func Authenticate(cfg *config.Auth, tx *sqlx.Tx, httpReq *http.Request, body *reqres.Request) bool {
	if cfg == nil {
		return true
	}

	var user, password string
	switch cfg.Mode {
	case config.AuthModeHTTPBasic:
		u, p, ok := httpReq.BasicAuth()
		if !ok {
			return false
		}
		user, password = u, p
	case config.AuthModeInline:
		if body == nil || body.Credentials == nil {
			return false
		}
		user, password = body.Credentials.User, body.Credentials.Password
	default:
		return false
	}

	if len(cfg.ByCredentials) > 0 {
		return authByCredentials(user, password, cfg.ByCredentials)
	}
	if cfg.ByQuery != nil && *cfg.ByQuery != "" {
		return authByQuery(user, password, *cfg.ByQuery, tx)
	}
	return false
}

func authByCredentials(user, password string, creds []config.Credentials) bool {
	for _, c := range creds {
		if commons.EqualCaseInsensitive(user, c.User) {
			return CheckPassword(password, c.Password, c.HashedPassword)
		}
	}
	return false
}

func authByQuery(user, password, query string, tx *sqlx.Tx) bool {
	if tx == nil {
		return false
	}
	rows, err := tx.NamedQuery(query, map[string]interface{}{
		"user":     user,
		"password": password,
	})
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

// CheckWebServiceToken applies the shared macro/backup web-service
// auth-token rule: compare the provided token against the configured
// auth_token/hashed_auth_token via CheckPassword.
func CheckWebServiceToken(token string, ws *config.WebServiceAuth) bool {
	if ws == nil {
		return false
	}
	return CheckPassword(token, ws.AuthToken, ws.HashedAuthToken)
}
