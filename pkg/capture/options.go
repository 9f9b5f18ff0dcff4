package capture

import (
	"errors"
	"fmt"
	"time"
)

// 选项字段的取值边界
// 全部边界集中在这里，编排器收到的选项一定已经过规范化
const (
	MinViewportWidth  = 320
	MaxViewportWidth  = 3840
	MinViewportHeight = 240
	MaxViewportHeight = 2160
	MinScaleFactor    = 1
	MaxScaleFactor    = 4
	MaxWaitTimeMs     = 10000
	MaxSelectorLen    = 500
	MaxCustomCSSLen   = 10000

	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultScaleFactor    = 2
)

// ErrInvalidOptions 选项校验失败
var ErrInvalidOptions = errors.New("无效的截图选项")

// Options 一次截图的全部选项
// 数值字段在Normalize中夹取到边界内，超长文本字段直接拒绝
type Options struct {
	ViewportWidth  int           // 视口宽度（像素）
	ViewportHeight int           // 视口高度（像素）
	ScaleFactor    int           // 设备缩放因子
	FullPage       bool          // 是否截取整个文档高度
	DarkMode       bool          // 是否启用深色模式
	WaitTime       time.Duration // 截图前的固定等待时间
	WaitForSelector string       // 截图前等待出现的选择器
	CustomCSS      string        // 注入的自定义样式
}

// DefaultOptions 返回全部字段取默认值的选项
func DefaultOptions() *Options {
	return &Options{
		ViewportWidth:  DefaultViewportWidth,
		ViewportHeight: DefaultViewportHeight,
		ScaleFactor:    DefaultScaleFactor,
		FullPage:       true,
	}
}

// Normalize 在服务边界执行一次规范化
// 编排器不再重复校验数值范围
func (o *Options) Normalize() error {
	if o.ViewportWidth == 0 {
		o.ViewportWidth = DefaultViewportWidth
	}
	if o.ViewportHeight == 0 {
		o.ViewportHeight = DefaultViewportHeight
	}
	o.ViewportWidth = clamp(o.ViewportWidth, MinViewportWidth, MaxViewportWidth)
	o.ViewportHeight = clamp(o.ViewportHeight, MinViewportHeight, MaxViewportHeight)

	// 显式传入的0或负数夹取为1，"未传"的默认值2由服务边界填充
	o.ScaleFactor = clamp(o.ScaleFactor, MinScaleFactor, MaxScaleFactor)

	if o.WaitTime < 0 {
		o.WaitTime = 0
	}
	if o.WaitTime > MaxWaitTimeMs*time.Millisecond {
		o.WaitTime = MaxWaitTimeMs * time.Millisecond
	}

	if len(o.WaitForSelector) > MaxSelectorLen {
		return fmt.Errorf("%w: 选择器长度超过%d", ErrInvalidOptions, MaxSelectorLen)
	}
	if len(o.CustomCSS) > MaxCustomCSSLen {
		return fmt.Errorf("%w: 自定义样式长度超过%d", ErrInvalidOptions, MaxCustomCSSLen)
	}

	return nil
}

// clamp 将数值夹取到[min, max]范围内
func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
