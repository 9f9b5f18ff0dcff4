package validator

import "time"

// Config URL校验器配置
type Config struct {
	AllowedSchemes []string      // 允许的URL协议
	ResolveTimeout time.Duration // DNS解析超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		AllowedSchemes: []string{"http", "https"},
		ResolveTimeout: 10 * time.Second,
	}
}
