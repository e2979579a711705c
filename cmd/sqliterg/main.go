package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sqliterg/sqliterg-go/pkg/config"
	"github.com/sqliterg/sqliterg-go/pkg/httpapi"
	"github.com/sqliterg/sqliterg-go/pkg/registry"
)

func main() {
	log.Printf("🗄️  Starting sqliterg-go...")

	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("❌ Failed to parse flags: %v", err)
	}

	reg, err := registry.Load(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to load databases: %v", err)
	}
	defer reg.Shutdown()

	for name := range reg.DBs {
		log.Printf("📂 Serving database %q", name)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(httpapi.RecoveryMiddleware())
	engine.Use(httpapi.LoggingMiddleware())
	engine.Use(httpapi.RequestIDMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "databases": len(reg.DBs)})
	})

	httpapi.NewServer(reg).RegisterRoutes(engine, cfg.ServeDir, cfg.IndexFile)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindHost, cfg.Port),
		Handler: engine,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("🚀 Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	<-quit
	log.Printf("🛑 Shutting down sqliterg-go...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Printf("✅ sqliterg-go stopped gracefully")
}
