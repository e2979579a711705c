package httpapi

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// static serves files out of dir, falling back to indexFile for any path
// that doesn't resolve to an existing file, so a single-page app's client
// side router keeps working.
func static(dir, indexFile string) gin.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		requested := filepath.Join(dir, filepath.Clean(c.Request.URL.Path))
		if info, err := os.Stat(requested); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(c.Writer, c.Request)
			c.Abort()
			return
		}
		c.Request.URL.Path = "/" + indexFile
		fileServer.ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}
}
