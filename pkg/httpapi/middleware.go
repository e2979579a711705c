// Package httpapi mounts each registered database's data, macro and backup
// endpoints on a gin engine, plus request logging, recovery, CORS and an
// optional static file server.
package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CORSMiddleware sets Access-Control-Allow-Origin to origin (or "*" when
// origin is empty) and short-circuits preflight OPTIONS requests.
func CORSMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware stamps every request with a correlation id, echoed
// back in the X-Request-Id response header and available to handlers via
// c.GetString("request_id").
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// LoggingMiddleware logs one line per request: client, timestamp, method,
// path, status, latency and the request id stamped by RequestIDMiddleware
// (which is how a slow or failing request gets correlated with the
// database-level logging done elsewhere). param.ErrorMessage is dropped: gin
// only populates it from c.Error(), which this codebase never calls since
// every handler failure is already reported through the JSON error envelope.
func LoggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		reqID, _ := param.Keys["request_id"].(string)
		return fmt.Sprintf("%s [%s] %s %s %s %d %s reqid=%s\n",
			param.ClientIP,
			param.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			reqID,
		)
	})
}

// RecoveryMiddleware turns a panic in a handler into a 500 instead of
// crashing the process.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.Recovery()
}

// authDelay is slept before responding to a failed authentication attempt,
// to blunt credential brute-forcing.
const authDelay = time.Second
