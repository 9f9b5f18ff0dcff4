package useragent

import "time"

// Config UA控制器配置
type Config struct {
	Database       string        // MongoDB数据库名
	Collection     string        // MongoDB集合名
	DefaultUA      string        // 默认UA，UA池不可用时使用
	UpdateInterval time.Duration // 更新间隔
}

// DefaultConfig 返回默认配置
// 默认UA为真实的桌面Chrome标识，降低被目标站点识别为自动化工具的概率
func DefaultConfig() Config {
	return Config{
		Database:       "screenshot",
		Collection:     "useragents",
		DefaultUA:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		UpdateInterval: time.Hour,
	}
}
