// Package redis 提供Redis连接和操作的封装
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient Redis客户端管理器
type RedisClient struct {
	client *redis.Client   // Redis客户端实例
	ctx    context.Context // 上下文，用于控制操作超时
}

// Config Redis连接配置
type Config struct {
	Host     string        // Redis服务器地址
	Port     int           // Redis服务器端口
	Password string        // Redis密码，如果有的话
	DB       int           // 要使用的数据库编号
	Timeout  time.Duration // 连接超时时间
}

// NewRedisClient 创建新的Redis客户端实例
func NewRedisClient(cfg *Config) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx := context.Background()

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	log.Printf("Redis连接成功: %s:%d", cfg.Host, cfg.Port)

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// Close 关闭Redis连接
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// ZRemRangeByScore 删除有序集合中指定分数范围的成员
func (r *RedisClient) ZRemRangeByScore(key string, min, max float64) error {
	return r.client.ZRemRangeByScore(r.ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Err()
}

// ZAdd 添加成员到有序集合
func (r *RedisClient) ZAdd(key string, score float64, member string) error {
	return r.client.ZAdd(r.ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

// ZCount 获取有序集合中指定分数范围的成员数量
func (r *RedisClient) ZCount(key string, min, max float64) (int, error) {
	return int(r.client.ZCount(r.ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Val()), nil
}

// Expire 设置键的过期时间
func (r *RedisClient) Expire(key string, expiration time.Duration) error {
	return r.client.Expire(r.ctx, key, expiration).Err()
}

// Ping 测试Redis连接
func (r *RedisClient) Ping() error {
	return r.client.Ping(r.ctx).Err()
}
