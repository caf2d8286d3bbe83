// Package cache 提供 Redis 客户端封装，JSON 序列化与连接管理
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

// RedisCache Redis 缓存实现
type RedisCache struct {
	client redis.UniversalClient
}

// New 创建 Redis 缓存实例
func New(cfg Config) (*RedisCache, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolSize,
		DialTimeout:     time.Duration(cfg.ConnTimeout) * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(context.Background(), "Redis connected successfully", "addr", addr)
	return &RedisCache{client: client}, nil
}

// NewFromClient 基于已有客户端创建缓存实例
func NewFromClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get 获取缓存值，key 不存在时 found 为 false
func (rc *RedisCache) Get(ctx context.Context, key string) (val string, found bool, err error) {
	val, err = rc.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		logger.Error(ctx, "Redis Get failed", "key", key, "error", err)
		return "", false, err
	}
	return val, true, nil
}

// GetJSON 获取 JSON 格式的缓存值
func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, found, err := rc.Get(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// Set 设置缓存值
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	err := rc.client.Set(ctx, key, value, expiration).Err()
	if err != nil {
		logger.Error(ctx, "Redis Set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// SetJSON 设置 JSON 格式的缓存值
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return rc.Set(ctx, key, string(data), expiration)
}

// Delete 删除缓存
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := rc.client.Del(ctx, keys...).Err(); err != nil {
		logger.Error(ctx, "Redis Delete failed", "keys", keys, "error", err)
		return err
	}
	return nil
}

// Ping 检查连接
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Client 返回底层客户端
func (rc *RedisCache) Client() redis.UniversalClient {
	return rc.client
}

// Close 关闭连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
