package capture

import (
	"errors"
	"fmt"
)

// 截图过程的错误分类
var (
	ErrNavigationTimeout  = errors.New("页面导航超时")
	ErrRendererUnavailable = errors.New("渲染引擎不可用")
)

// OversizeError 输出图片超过大小上限
// 携带本应产出的尺寸，供调用方降低缩放或视口后重试
type OversizeError struct {
	Width  int // 本应产出的宽度（像素）
	Height int // 本应产出的高度（像素）
	Bytes  int // 实际产出的字节数
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("输出图片过大: %d字节 (%dx%d)", e.Bytes, e.Width, e.Height)
}
