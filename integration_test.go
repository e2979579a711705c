package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/sqliterg/sqliterg-go/pkg/config"
	"github.com/sqliterg/sqliterg-go/pkg/httpapi"
	"github.com/sqliterg/sqliterg-go/pkg/registry"
	"github.com/sqliterg/sqliterg-go/pkg/reqres"
)

func newIntegrationEngine(t *testing.T, serverCfg *config.ServerConfig) (*gin.Engine, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := registry.Load(serverCfg)
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)

	engine := gin.New()
	httpapi.NewServer(reg).RegisterRoutes(engine, "", "")
	return engine, reg
}

func post(t *testing.T, engine *gin.Engine, path string, req reqres.Request) (*http.Response, reqres.Response) {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httpReq)

	var resp reqres.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Result(), resp
}

func sp(s string) *string { return &s }

func TestEndToEndNumericAndTextRoundTrip(t *testing.T) {
	engine, _ := newIntegrationEngine(t, &config.ServerConfig{MemDBs: []config.MemDBSpec{{ID: "e2e1"}}})

	_, _ = post(t, engine, "/e2e1", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("CREATE TABLE items (id INTEGER, name TEXT, price REAL)")},
	}})

	res, resp := post(t, engine, "/e2e1", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("INSERT INTO items (id, name, price) VALUES (:id, :name, :price)"),
			Values: json.RawMessage(`{"id": 1, "name": "widget", "price": 9.99}`)},
		{Query: sp("SELECT id, name, price FROM items WHERE id = 1")},
	}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	row := resp.Results[1].ResultSet[0]
	require.Equal(t, float64(1), row["id"])
	require.Equal(t, "widget", row["name"])
	require.InDelta(t, 9.99, row["price"], 0.0001)
}

func TestEndToEndBatchedInsert(t *testing.T) {
	engine, _ := newIntegrationEngine(t, &config.ServerConfig{MemDBs: []config.MemDBSpec{{ID: "e2e2"}}})

	_, _ = post(t, engine, "/e2e2", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("CREATE TABLE items (id INTEGER, name TEXT)")},
	}})

	res, resp := post(t, engine, "/e2e2", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("INSERT INTO items (id, name) VALUES (:id, :name)"),
			ValuesBatch: []json.RawMessage{
				json.RawMessage(`{"id": 1, "name": "a"}`),
				json.RawMessage(`{"id": 2, "name": "b"}`),
				json.RawMessage(`{"id": 3, "name": "c"}`),
			}},
		{Query: sp("SELECT COUNT(*) AS n FROM items")},
	}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, []interface{}{int64(1), int64(1), int64(1)}, toInterfaceSlice(resp.Results[0].RowsUpdatedBatch))
	require.Equal(t, float64(3), resp.Results[1].ResultSet[0]["n"])
}

func toInterfaceSlice(in []int64) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func TestEndToEndAtomicRollbackOnFailure(t *testing.T) {
	engine, _ := newIntegrationEngine(t, &config.ServerConfig{MemDBs: []config.MemDBSpec{{ID: "e2e3"}}})

	_, _ = post(t, engine, "/e2e3", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("CREATE TABLE items (id INTEGER PRIMARY KEY)")},
	}})

	res, _ := post(t, engine, "/e2e3", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("INSERT INTO items (id) VALUES (:id)"), Values: json.RawMessage(`{"id": 1}`)},
		{Statement: sp("INSERT INTO does_not_exist (id) VALUES (1)")},
	}})
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)

	_, countResp := post(t, engine, "/e2e3", reqres.Request{Transaction: []reqres.TransactionItem{
		{Query: sp("SELECT COUNT(*) AS n FROM items")},
	}})
	require.Equal(t, float64(0), countResp.Results[0].ResultSet[0]["n"])
}

func TestEndToEndNoFailRecovery(t *testing.T) {
	engine, _ := newIntegrationEngine(t, &config.ServerConfig{MemDBs: []config.MemDBSpec{{ID: "e2e4"}}})

	_, _ = post(t, engine, "/e2e4", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("CREATE TABLE items (id INTEGER PRIMARY KEY)")},
	}})

	res, resp := post(t, engine, "/e2e4", reqres.Request{Transaction: []reqres.TransactionItem{
		{NoFail: true, Statement: sp("INSERT INTO does_not_exist (id) VALUES (1)")},
		{Statement: sp("INSERT INTO items (id) VALUES (:id)"), Values: json.RawMessage(`{"id": 1}`)},
	}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.False(t, resp.Results[0].Success)
	require.True(t, resp.Results[1].Success)
}

func TestEndToEndAuthDenialSleepsBeforeResponding(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "guarded.sqlite")
	yamlPath := filepath.Join(dir, "guarded.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
auth:
  mode: HTTP_BASIC
  by_credentials:
    - user: alice
      password: secret
`), 0o644))

	engine, _ := newIntegrationEngine(t, &config.ServerConfig{DBs: []config.DBSpec{{DBPath: dbPath, YAMLPath: yamlPath}}})

	httpReq := httptest.NewRequest(http.MethodPost, "/guarded", bytes.NewReader([]byte(`{"transaction":[]}`)))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth("alice", "wrong-password")
	rec := httptest.NewRecorder()

	start := time.Now()
	engine.ServeHTTP(rec, httpReq)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.GreaterOrEqual(t, elapsed, time.Second)
}

func TestEndToEndOnlyStoredStatementsRejectsLiteralSQL(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "locked.sqlite")
	yamlPath := filepath.Join(dir, "locked.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
use_only_stored_statements: true
stored_statements:
  - id: create
    sql: "CREATE TABLE items (id INTEGER)"
`), 0o644))

	engine, _ := newIntegrationEngine(t, &config.ServerConfig{DBs: []config.DBSpec{{DBPath: dbPath, YAMLPath: yamlPath}}})

	res, _ := post(t, engine, "/locked", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("CREATE TABLE evil (id INTEGER)")},
	}})
	require.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = post(t, engine, "/locked", reqres.Request{Transaction: []reqres.TransactionItem{
		{Statement: sp("^create")},
	}})
	require.Equal(t, http.StatusOK, res.StatusCode)
}
