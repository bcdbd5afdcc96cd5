package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/handler"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MES HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipMigrate, _ := cmd.Flags().GetBool("skip-migrate")
		return runServe(cmd.Context(), !skipMigrate)
	},
}

func init() {
	serveCmd.Flags().Bool("skip-migrate", false, "do not auto-migrate tables on startup")
}

func runServe(ctx context.Context, autoMigrate bool) error {
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	a.logger.Info("Starting nimo-mes service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("db_driver", a.cfg.Database.Driver),
		zap.String("default_timezone", a.defaultLoc.String()),
	)

	if autoMigrate {
		if err := migrate(a.db); err != nil {
			return err
		}
	}

	// 设置Gin模式
	if a.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(a.logger, "/health/live", "/health/ready"))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	// SSE 不压缩，否则事件会被缓冲
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/mes/events"})))

	registerRoutes(router, a)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("start server: %w", err)
	}

	a.logger.Info("Shutting down server...")

	// 先断开SSE连接，否则 Shutdown 会等待长连接
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server forced to shutdown", zap.Error(err))
	}

	a.logger.Info("Server exited")
	return nil
}

func registerRoutes(r *gin.Engine, a *app) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sse_clients": a.hub.Count()})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	handlers := handler.NewHandlers(a.services, a.hub, a.defaultLoc, a.logger)
	api := r.Group("/api/v1/mes", middleware.JWTAuth(a.cfg.JWT.Secret))
	handler.RegisterRoutes(api, handlers)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})
}
