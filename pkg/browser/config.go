package browser

import "time"

// Config 浏览器生命周期配置
type Config struct {
	ChromePath     string        // Chrome浏览器路径，为空时由chromedp自动查找
	MaxScreenshots int64         // 单实例最大截图数，达到后在下次获取时重启
	MaxAge         time.Duration // 单实例最大存活时间，超过后在下次获取时重启
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxScreenshots: 100,
		MaxAge:         time.Hour,
	}
}
