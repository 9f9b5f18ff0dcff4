package ratelimit

import "time"

// Config 限流控制器配置
type Config struct {
	RedisKeyPrefix string        // Redis键前缀
	WindowSize     time.Duration // 固定窗口大小
	WindowLimit    int           // 每窗口允许的请求数
	SweepInterval  time.Duration // 过期窗口清理间隔
	RedisWindowCap int           // Redis分布式窗口的全局请求上限
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		RedisKeyPrefix: "screenshot:ratelimit",
		WindowSize:     60 * time.Second,
		WindowLimit:    5,
		SweepInterval:  60 * time.Second,
		RedisWindowCap: 100,
	}
}
