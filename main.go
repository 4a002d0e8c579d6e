package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"LIBRIS-backend/internal/docs"
	"LIBRIS-backend/internal/library/books"
	"LIBRIS-backend/internal/library/catalog"
	"LIBRIS-backend/internal/library/loans"
	"LIBRIS-backend/internal/library/profiles"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/config"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/gateway"
	"LIBRIS-backend/internal/platform/metrics"
)

func main() {
	// 設定読み込み
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		log.Fatalf("[ERROR] config: %v", err)
	}
	log.Printf("[INFO] mode:%s version:%s", cfg.Mode, cfg.Version)

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("[ERROR] db connect: %v", err)
	}
	defer conn.Close()
	log.Printf("[INFO] connected to DB: %s", cfg.DB.Driver)

	dialect := cfg.DB.Dialect()
	if cfg.DB.AutoMigrate {
		if err := db.Migrate(context.Background(), conn, dialect); err != nil {
			log.Fatalf("[ERROR] migrate: %v", err)
		}
		log.Println("[INFO] schema migrated")
	}

	store := gateway.NewSQLStore(conn, dialect)
	authSvc := auth.NewService(auth.NewStore(conn, dialect), store, auth.Options{
		Secret:      []byte(cfg.Auth.JWTSecret),
		TTL:         cfg.Auth.TokenTTL,
		DefaultRole: cfg.Auth.DefaultRole,
	})

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), metrics.Middleware())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowOrigins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
		// ドキュメントは dev のみ公開
		if cfg.Version != "" {
			docs.SwaggerInfo.Version = cfg.Version
		}
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) {
		if err := conn.PingContext(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "db unreachable")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", metrics.Handler())

	// /api/v1
	api := r.Group("/api/v1")
	private := api.Group("", auth.RequireAuth([]byte(cfg.Auth.JWTSecret)))
	auth.RegisterRoutes(api, private, authSvc)
	loans.RegisterRoutes(private, loans.NewService(store))
	books.RegisterRoutes(private, books.NewService(store, cfg.Catalog.Categories))
	catalog.RegisterRoutes(private, catalog.NewService(store, cfg.Catalog.Categories))
	profiles.RegisterRoutes(private, profiles.NewService(store))

	r.NoRoute(notFound)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if certFile, keyFile, ok := cfg.TLSFiles(); ok {
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("[WARN] certificate not configured, listening on http://%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}

// notFound: 未登録のパスは API と同じ形のエラーで返す
func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "no such endpoint"}})
}
