package capture

import "time"

// Config 截图编排器配置
type Config struct {
	NavigateTimeout time.Duration // 页面导航超时
	FontTimeout     time.Duration // 字体加载等待上限，超时不致命
	SelectorTimeout time.Duration // 选择器等待上限，超时不致命
	ImageTimeout    time.Duration // 图片加载等待上限，超时不致命
	ScrollTimeout   time.Duration // 懒加载滚动整体上限，超时不致命
	MaxHeight       int           // 全页截图的最大像素高度，超过则截断
	MaxOutputBytes  int           // 输出图片的最大字节数
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		NavigateTimeout: 30 * time.Second,
		FontTimeout:     5 * time.Second,
		SelectorTimeout: 10 * time.Second,
		ImageTimeout:    5 * time.Second,
		ScrollTimeout:   15 * time.Second,
		MaxHeight:       15000,
		MaxOutputBytes:  50 * 1024 * 1024,
	}
}
