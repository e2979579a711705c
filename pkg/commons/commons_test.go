package commons

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSha256Hex(t *testing.T) {
	require.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Sha256Hex("hello"),
	)
}

func TestEqualCaseInsensitive(t *testing.T) {
	require.True(t, EqualCaseInsensitive("Admin", "admin"))
	require.False(t, EqualCaseInsensitive("Admin", "root"))
}

func TestRetainKeepsNewest(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, fileName(i))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		modTime := time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}

	require.NoError(t, Retain(dir, 3))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for _, e := range entries {
		require.Contains(t, []string{fileName(3), fileName(4), fileName(5)}, e.Name())
	}
}

func fileName(i int) string {
	return "backup_" + string(rune('a'+i)) + ".db"
}
