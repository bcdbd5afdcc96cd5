package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/config"
	erpentity "github.com/bitfantasy/nimo-mes/internal/erp/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/bitfantasy/nimo-mes/internal/shared/cache"
	"github.com/bitfantasy/nimo-mes/internal/shared/feishu"
	"github.com/bitfantasy/nimo-mes/internal/shared/storage"
	"github.com/bitfantasy/nimo-mes/internal/shared/tracing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// app 进程级依赖
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	redis      *redis.Client
	tracing    *tracing.Provider
	hub        *sse.Hub
	services   *service.Services
	defaultLoc *time.Location
}

// newApp 加载配置并连接数据库，withServices 为 false 时只初始化数据库
func newApp(ctx context.Context, withServices bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: zapLogger, db: db}
	if !withServices {
		return a, nil
	}

	a.defaultLoc = service.LoadLocation(cfg.MES.DefaultTimezone, time.UTC)

	a.tracing, err = tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.hub = sse.NewHub(zapLogger)

	opts := service.Options{
		Logger:     zapLogger,
		Cache:      a.initCache(ctx),
		CounterTTL: cfg.MES.CounterCacheTTL,
		Events:     a.hub,
		Tracer:     a.tracing.Tracer(),
	}

	if cfg.Feishu.Enabled() {
		opts.Cards = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
		opts.NotifyChatID = cfg.Feishu.NotifyChatID
		zapLogger.Info("Feishu notifications enabled", zap.String("chat_id", cfg.Feishu.NotifyChatID))
	}

	store, err := storage.NewMinIOStore(storage.MinIOConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.EnsureBucket(ctx); err != nil {
			zapLogger.Warn("MinIO bucket unavailable, report archive disabled", zap.Error(err))
		} else {
			opts.Store = store
		}
	}

	a.services = service.NewServices(repository.NewRepositories(db), opts)
	return a, nil
}

// initCache Redis可用时使用Redis，否则退回进程内缓存
func (a *app) initCache(ctx context.Context) cache.Cache {
	ttl := a.cfg.MES.CounterCacheTTL
	addr := a.cfg.Redis.Addr()
	if addr == "" {
		return cache.NewMemory(ttl, 2*ttl)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})
	rc := cache.NewRedis(client)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		a.logger.Warn("Redis unavailable, using in-process counter cache", zap.String("addr", addr), zap.Error(err))
		client.Close()
		return cache.NewMemory(ttl, 2*ttl)
	}
	a.redis = client
	return rc
}

// close 释放连接
func (a *app) close(ctx context.Context) {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.logger.Sync()
}

// migrate 迁移ERP依赖表与MES表
func migrate(db *gorm.DB) error {
	if err := erpentity.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate erp tables: %w", err)
	}
	if err := entity.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate mes tables: %w", err)
	}
	return nil
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path + "?_busy_timeout=5000")
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite 单写者
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}
