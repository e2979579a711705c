// Package config is the typed representation of a database's companion
// YAML file: authentication policy, journal mode, stored statements,
// macros and backup plan.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AuthMode selects where credentials are read from on the request plane.
type AuthMode string

const (
	AuthModeHTTPBasic AuthMode = "HTTP_BASIC"
	AuthModeInline    AuthMode = "INLINE"
)

// DefaultAuthErrorCode is used whenever an Auth/WebServiceAuth block omits
// auth_error_code.
const DefaultAuthErrorCode = 401

// Credentials is one entry of an Auth.ByCredentials list.
type Credentials struct {
	User           string  `yaml:"user"`
	Password       *string `yaml:"password"`
	HashedPassword *string `yaml:"hashed_password"`
}

// Auth is a database's data-plane authentication policy. Exactly one of
// ByCredentials/ByQuery must be set.
type Auth struct {
	Mode          AuthMode      `yaml:"mode"`
	ByCredentials []Credentials `yaml:"by_credentials"`
	ByQuery       *string       `yaml:"by_query"`
	AuthErrorCode int           `yaml:"auth_error_code"`
}

// ErrorCode returns the configured auth_error_code, defaulting to 401.
func (a *Auth) ErrorCode() int {
	if a == nil || a.AuthErrorCode == 0 {
		return DefaultAuthErrorCode
	}
	return a.AuthErrorCode
}

// StoredStatement is one named SQL template, referenced as "^id".
type StoredStatement struct {
	ID  string `yaml:"id"`
	SQL string `yaml:"sql"`
}

// WebServiceAuth gates a macro or backup's HTTP trigger by a token passed
// in the "token" query parameter, compared via the same check_password rule
// as user credentials.
type WebServiceAuth struct {
	AuthToken       *string `yaml:"auth_token"`
	HashedAuthToken *string `yaml:"hashed_auth_token"`
	AuthErrorCode   int     `yaml:"auth_error_code"`
}

// ErrorCode returns the configured auth_error_code, defaulting to 401.
func (w *WebServiceAuth) ErrorCode() int {
	if w == nil || w.AuthErrorCode == 0 {
		return DefaultAuthErrorCode
	}
	return w.AuthErrorCode
}

// Execution describes when a macro or backup plan runs.
type Execution struct {
	OnCreate      bool            `yaml:"on_create"`
	OnStartup     bool            `yaml:"on_startup"`
	PeriodMinutes int             `yaml:"period_minutes"`
	WebService    *WebServiceAuth `yaml:"web_service"`
}

// Macro is a named, ordered sequence of SQL statements triggerable at
// creation/startup/periodically/via HTTP.
type Macro struct {
	ID                 string    `yaml:"id"`
	DisableTransaction bool      `yaml:"disable_transaction"`
	Statements         []string  `yaml:"statements"`
	Execution          Execution `yaml:"execution"`
}

// Backup is a database's snapshot plan.
type Backup struct {
	BackupDir string    `yaml:"backup_dir"`
	NumFiles  int       `yaml:"num_files"`
	Execution Execution `yaml:"execution"`
}

// DbConfig is the full companion-YAML schema for one database.
type DbConfig struct {
	Auth                    *Auth             `yaml:"auth"`
	JournalMode             string            `yaml:"journal_mode"`
	ReadOnly                bool              `yaml:"read_only"`
	CORSOrigin              *string           `yaml:"cors_origin"`
	UseOnlyStoredStatements bool              `yaml:"use_only_stored_statements"`
	StoredStatements        []StoredStatement `yaml:"stored_statements"`
	Macros                  []Macro           `yaml:"macros"`
	Backup                  *Backup           `yaml:"backup"`
}

// JournalModeOrDefault returns the configured journal mode, defaulting to WAL.
func (c *DbConfig) JournalModeOrDefault() string {
	if c.JournalMode == "" {
		return "WAL"
	}
	return c.JournalMode
}

// Default returns the configuration used when a database has no companion
// YAML file: journal mode WAL, every other field at its zero value.
func Default() *DbConfig {
	return &DbConfig{JournalMode: "WAL"}
}

// Load reads and parses a database's companion YAML file. A missing file is
// not an error; it yields the Default() configuration.
func Load(path string) (*DbConfig, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read companion config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse companion config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the companion config's cross-field invariants. dbDir is
// the database file's containing directory, used to reject a backup_dir
// that would collide with it; pass "" for in-memory databases, which have
// no directory to collide with.
func (c *DbConfig) Validate(dbDir string) error {
	if c.Backup != nil {
		if c.Backup.NumFiles < 1 {
			return fmt.Errorf("backup.num_files must be >= 1, got %d", c.Backup.NumFiles)
		}
		if !dirExists(c.Backup.BackupDir) {
			return fmt.Errorf("backup.backup_dir %q does not exist", c.Backup.BackupDir)
		}
		if dbDir != "" && samePath(c.Backup.BackupDir, dbDir) {
			return fmt.Errorf("backup.backup_dir %q must not be the database's own directory", c.Backup.BackupDir)
		}
	}

	if c.Auth != nil {
		hasCreds := len(c.Auth.ByCredentials) > 0
		hasQuery := c.Auth.ByQuery != nil && *c.Auth.ByQuery != ""
		if hasCreds == hasQuery {
			return fmt.Errorf("auth must set exactly one of by_credentials or by_query")
		}
		for _, cred := range c.Auth.ByCredentials {
			if cred.Password == nil && cred.HashedPassword == nil {
				return fmt.Errorf("credentials for user %q must set password or hashed_password", cred.User)
			}
		}
	}

	for _, m := range c.Macros {
		if len(m.Statements) == 0 {
			return fmt.Errorf("macro %q must have at least one statement", m.ID)
		}
	}

	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return filepath.Clean(absA) == filepath.Clean(absB)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
