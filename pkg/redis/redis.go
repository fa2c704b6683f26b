package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/fisker/zcrm-backend/pkg/config"
	"github.com/fisker/zcrm-backend/pkg/logger"
	"github.com/go-redis/redis/v8"
)

// Client 全局 Redis 客户端（nil 表示未启用或连接失败）
var Client *redis.Client

// Init 初始化 Redis 连接
// Redis 仅用于热点计数缓存，未启用或连接失败时优雅降级为直查数据库
func Init(cfg *config.RedisConfig) error {
	if !cfg.Enabled {
		logger.Info("Redis disabled, pending counts will query database directly")
		return nil
	}

	cfg.SetDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  time.Duration(cfg.ConnectTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectTimeout)*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	Client = client
	logger.Infof("Connected to Redis at %s:%d (DB: %d, PoolSize: %d)",
		cfg.Host, cfg.Port, cfg.DB, cfg.PoolSize)
	return nil
}

// Close 关闭 Redis 连接
func Close() error {
	if Client == nil {
		return nil
	}
	err := Client.Close()
	Client = nil
	return err
}

// IsEnabled 检查 Redis 是否可用
func IsEnabled() bool {
	return Client != nil
}

// GetClient 获取 Redis 客户端（未启用时返回 nil）
func GetClient() *redis.Client {
	return Client
}
