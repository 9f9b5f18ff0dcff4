package semaphore

import "time"

// Config 并发闸门配置
type Config struct {
	MaxConcurrent int           // 最大并发许可数
	QueueTimeout  time.Duration // 排队等待的默认超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		QueueTimeout:  10 * time.Second,
	}
}
