package config

import (
	"flag"
	"fmt"
	"strings"
)

// ServerConfig is the process-level configuration surfaced by the CLI flags.
type ServerConfig struct {
	BindHost  string
	Port      int
	DBs       []DBSpec
	MemDBs    []MemDBSpec
	ServeDir  string
	IndexFile string
}

// DBSpec is one "--db dbPath[::yamlPath]" occurrence.
type DBSpec struct {
	DBPath   string
	YAMLPath string // empty means "derive from DBPath's stem"
}

// MemDBSpec is one "--mem-db id[::yamlPath]" occurrence.
type MemDBSpec struct {
	ID       string
	YAMLPath string
}

// repeatableFlag accumulates every occurrence of a repeatable CLI flag, the
// way a Vec<String>-typed clap argument collects --db/--mem-db.
type repeatableFlag struct {
	values []string
}

func (r *repeatableFlag) String() string {
	return strings.Join(r.values, ",")
}

func (r *repeatableFlag) Set(value string) error {
	r.values = append(r.values, value)
	return nil
}

// ParseFlags parses the process CLI flags into a ServerConfig and enforces
// that at least one of --db, --mem-db or --serve-dir was given.
func ParseFlags(args []string) (*ServerConfig, error) {
	fs := flag.NewFlagSet("sqliterg", flag.ContinueOnError)

	bindHost := fs.String("bind-host", "0.0.0.0", "the host to bind")
	port := fs.Int("port", 12321, "port for the web service")
	serveDir := fs.String("serve-dir", "", "a directory to serve with the builtin HTTP server")
	indexFile := fs.String("index-file", "index.html", "index file name for --serve-dir")

	var dbFlag, memDBFlag repeatableFlag
	fs.Var(&dbFlag, "db", "repeatable; path of a file-based database, optionally \"path::yaml\"")
	fs.Var(&memDBFlag, "mem-db", "repeatable; id of an in-memory database, optionally \"id::yaml\"")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		BindHost:  *bindHost,
		Port:      *port,
		ServeDir:  *serveDir,
		IndexFile: *indexFile,
	}

	for _, spec := range dbFlag.values {
		dbPath, yamlPath := splitSpec(spec)
		cfg.DBs = append(cfg.DBs, DBSpec{DBPath: dbPath, YAMLPath: yamlPath})
	}
	for _, spec := range memDBFlag.values {
		id, yamlPath := splitSpec(spec)
		cfg.MemDBs = append(cfg.MemDBs, MemDBSpec{ID: id, YAMLPath: yamlPath})
	}

	if len(cfg.DBs) == 0 && len(cfg.MemDBs) == 0 && cfg.ServeDir == "" {
		return nil, fmt.Errorf("at least one of --db, --mem-db, --serve-dir must be provided")
	}

	return cfg, nil
}

// splitSpec splits a "value::yamlPath" CLI argument into its two parts.
func splitSpec(spec string) (value, yamlPath string) {
	parts := strings.SplitN(spec, "::", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
