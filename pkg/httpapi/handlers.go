package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sqliterg/sqliterg-go/pkg/auth"
	"github.com/sqliterg/sqliterg-go/pkg/backup"
	"github.com/sqliterg/sqliterg-go/pkg/dbh"
	"github.com/sqliterg/sqliterg-go/pkg/macro"
	"github.com/sqliterg/sqliterg-go/pkg/registry"
	"github.com/sqliterg/sqliterg-go/pkg/reqres"
	"github.com/sqliterg/sqliterg-go/pkg/txn"
)

// Server wires a registry's databases onto gin routes.
type Server struct {
	reg *registry.Registry
}

// NewServer builds a Server over reg.
func NewServer(reg *registry.Registry) *Server {
	return &Server{reg: reg}
}

// RegisterRoutes mounts one route group per database, each carrying its own
// CORS policy, plus an optional static file server for serveDir.
func (s *Server) RegisterRoutes(engine *gin.Engine, serveDir, indexFile string) {
	for name, db := range s.reg.DBs {
		group := engine.Group("/" + name)
		group.Use(CORSMiddleware(corsOrigin(db)))

		group.POST("", s.handleTransaction(db))
		group.POST("/macro/:id", s.handleMacro(db))
		group.POST("/backup", s.handleBackup(db))
	}

	if serveDir != "" {
		if indexFile == "" {
			indexFile = "index.html"
		}
		engine.Use(static(serveDir, indexFile))
	}
}

func corsOrigin(db *dbh.Db) string {
	if db.Config.CORSOrigin != nil {
		return *db.Config.CORSOrigin
	}
	return ""
}

func (s *Server) handleTransaction(db *dbh.Db) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.ContentType() != "application/json" {
			c.JSON(http.StatusBadRequest, reqres.NewErr(-1, "Content-Type must be application/json"))
			return
		}

		var req reqres.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, reqres.NewErr(-1, err.Error()))
			return
		}

		if !authenticate(db, c.Request, &req) {
			time.Sleep(authDelay)
			c.JSON(db.Config.Auth.ErrorCode(), reqres.NewErr(-1, "Authentication failed"))
			return
		}

		resp, apiErr := txn.Process(db, &req)
		if apiErr != nil {
			c.JSON(apiErr.Status, reqres.NewErr(apiErr.ReqIdx, apiErr.Message))
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) handleMacro(db *dbh.Db) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		m, ok := db.MacroByID(id)
		if !ok {
			c.JSON(http.StatusBadRequest, reqres.NewErr(-1, "Macro '"+id+"' not found"))
			return
		}
		if m.Config.Execution.WebService == nil {
			c.JSON(http.StatusNotFound, reqres.NewErr(-1, "macro '"+id+"' has no web_service trigger"))
			return
		}
		if !auth.CheckWebServiceToken(webServiceToken(c), m.Config.Execution.WebService) {
			time.Sleep(authDelay)
			c.JSON(m.Config.Execution.WebService.ErrorCode(), reqres.NewErr(-1, "Authentication failed"))
			return
		}

		resp, err := macro.Execute(db, m)
		if err != nil {
			c.JSON(http.StatusInternalServerError, reqres.NewErr(-1, err.Error()))
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) handleBackup(db *dbh.Db) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db.Config.Backup == nil {
			c.JSON(http.StatusNotFound, reqres.NewErr(-1, "database '"+db.Name+"' has no backup plan"))
			return
		}
		ws := db.Config.Backup.Execution.WebService
		if ws == nil {
			c.JSON(http.StatusNotFound, reqres.NewErr(-1, "database '"+db.Name+"' has no web_service backup trigger"))
			return
		}
		if !auth.CheckWebServiceToken(webServiceToken(c), ws) {
			time.Sleep(authDelay)
			c.JSON(ws.ErrorCode(), reqres.NewErr(-1, "Authentication failed"))
			return
		}

		if err := backup.Run(db, time.Now()); err != nil {
			var apiErr *reqres.APIError
			if errors.As(err, &apiErr) {
				c.JSON(apiErr.Status, reqres.NewErr(-1, apiErr.Message))
				return
			}
			c.JSON(http.StatusInternalServerError, reqres.NewErr(-1, err.Error()))
			return
		}
		c.JSON(http.StatusOK, reqres.NewOK(nil))
	}
}

func webServiceToken(c *gin.Context) string {
	return c.Query("token")
}

func authenticate(db *dbh.Db, httpReq *http.Request, body *reqres.Request) bool {
	if db.Config.Auth == nil {
		return true
	}
	if db.Config.Auth.ByQuery != nil && *db.Config.Auth.ByQuery != "" {
		// The by_query probe reads through db.Conn like any other data-plane
		// operation, so it must hold db.Mutex for the same reason
		// txn.Process does: db.Conn is capped at one open connection, and
		// the mutex is the sole synchronization primitive serializing
		// access to it.
		db.Mutex.Lock()
		defer db.Mutex.Unlock()

		tx, err := db.Conn.Beginx()
		if err != nil {
			return false
		}
		defer func() { _ = tx.Rollback() }()
		return auth.Authenticate(db.Config.Auth, tx, httpReq, body)
	}
	return auth.Authenticate(db.Config.Auth, nil, httpReq, body)
}
