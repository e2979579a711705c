package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqliterg/sqliterg-go/pkg/config"
)

func TestLoadOpensFileDatabaseWithoutCompanionConfig(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "mydb.sqlite")

	reg, err := Load(&config.ServerConfig{DBs: []config.DBSpec{{DBPath: dbPath}}})
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)

	db, ok := reg.Lookup("mydb")
	require.True(t, ok)
	require.True(t, db.IsNew)
	require.Equal(t, "WAL", db.Config.JournalModeOrDefault())
}

func TestLoadOpensInMemoryDatabase(t *testing.T) {
	reg, err := Load(&config.ServerConfig{MemDBs: []config.MemDBSpec{{ID: "scratch"}}})
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)

	db, ok := reg.Lookup("scratch")
	require.True(t, ok)
	require.True(t, db.IsNew)

	_, err = db.Conn.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
}

func TestLoadRunsOnCreateMacroForNewFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "withmacro.sqlite")
	yamlPath := filepath.Join(dir, "withmacro.yaml")

	require.NoError(t, os.WriteFile(yamlPath, []byte(`
macros:
  - id: init
    statements:
      - "CREATE TABLE seeded (id INTEGER)"
    execution:
      on_create: true
`), 0o644))

	reg, err := Load(&config.ServerConfig{DBs: []config.DBSpec{{DBPath: dbPath, YAMLPath: yamlPath}}})
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)

	db, _ := reg.Lookup("withmacro")
	var count int
	require.NoError(t, db.Conn.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='seeded'"))
	require.Equal(t, 1, count)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "dup.sqlite")

	_, err := Load(&config.ServerConfig{
		DBs:    []config.DBSpec{{DBPath: dbPath}},
		MemDBs: []config.MemDBSpec{{ID: "dup"}},
	})
	require.Error(t, err)
}
