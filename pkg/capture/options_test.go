package capture

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// TestScaleFactorClamp 测试缩放因子的夹取
func TestScaleFactorClamp(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{10, 4}, // 超过上限夹取为4
		{0, 1},  // 显式的0夹取为1
		{-3, 1}, // 负数夹取为1
		{2, 2},
		{4, 4},
	}

	for _, c := range cases {
		o := DefaultOptions()
		o.ScaleFactor = c.in
		if err := o.Normalize(); err != nil {
			t.Fatalf("规范化失败: %v", err)
		}
		if o.ScaleFactor != c.want {
			t.Errorf("缩放因子 %d 期望夹取为 %d，实际 %d", c.in, c.want, o.ScaleFactor)
		}
	}
}

// TestViewportClamp 测试视口尺寸的夹取和默认值
func TestViewportClamp(t *testing.T) {
	o := &Options{ViewportWidth: 10000, ViewportHeight: 50, ScaleFactor: 2}
	if err := o.Normalize(); err != nil {
		t.Fatalf("规范化失败: %v", err)
	}
	if o.ViewportWidth != MaxViewportWidth {
		t.Errorf("视口宽度应夹取到上限: %d", o.ViewportWidth)
	}
	if o.ViewportHeight != MinViewportHeight {
		t.Errorf("视口高度应夹取到下限: %d", o.ViewportHeight)
	}

	// 未设置时取默认值
	o = &Options{ScaleFactor: 2}
	if err := o.Normalize(); err != nil {
		t.Fatalf("规范化失败: %v", err)
	}
	if o.ViewportWidth != DefaultViewportWidth || o.ViewportHeight != DefaultViewportHeight {
		t.Errorf("默认视口不正确: %dx%d", o.ViewportWidth, o.ViewportHeight)
	}
}

// TestWaitTimeClamp 测试固定等待时间的夹取
func TestWaitTimeClamp(t *testing.T) {
	o := DefaultOptions()
	o.WaitTime = 60 * time.Second
	if err := o.Normalize(); err != nil {
		t.Fatalf("规范化失败: %v", err)
	}
	if o.WaitTime != MaxWaitTimeMs*time.Millisecond {
		t.Errorf("等待时间应夹取到上限: %v", o.WaitTime)
	}

	o.WaitTime = -time.Second
	o.Normalize()
	if o.WaitTime != 0 {
		t.Errorf("负的等待时间应夹取为0: %v", o.WaitTime)
	}
}

// TestOversizeTextRejected 测试超长文本字段被拒绝而非截断
func TestOversizeTextRejected(t *testing.T) {
	o := DefaultOptions()
	o.WaitForSelector = strings.Repeat("a", MaxSelectorLen+1)
	if err := o.Normalize(); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("超长选择器应被拒绝: %v", err)
	}

	o = DefaultOptions()
	o.CustomCSS = strings.Repeat("b", MaxCustomCSSLen+1)
	if err := o.Normalize(); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("超长自定义样式应被拒绝: %v", err)
	}
}

// TestDecideCaptureHeight 测试截断决策
func TestDecideCaptureHeight(t *testing.T) {
	// 20000像素的文档在全页模式下截断到15000
	h, truncated := decideCaptureHeight(true, 20000, 800, 15000)
	if h != 15000 || !truncated {
		t.Errorf("高文档应被截断: height=%d truncated=%v", h, truncated)
	}

	// 上限以内不截断
	h, truncated = decideCaptureHeight(true, 5000, 800, 15000)
	if h != 5000 || truncated {
		t.Errorf("上限内不应截断: height=%d truncated=%v", h, truncated)
	}

	// 文档比视口矮时取视口高度
	h, truncated = decideCaptureHeight(true, 300, 800, 15000)
	if h != 800 || truncated {
		t.Errorf("矮文档应取视口高度: height=%d truncated=%v", h, truncated)
	}

	// 非全页模式固定为视口高度
	h, truncated = decideCaptureHeight(false, 20000, 800, 15000)
	if h != 800 || truncated {
		t.Errorf("非全页模式应取视口高度: height=%d truncated=%v", h, truncated)
	}
}

// TestOversizeErrorReportsDimensions 测试超大输出错误携带尺寸信息
func TestOversizeErrorReportsDimensions(t *testing.T) {
	err := &OversizeError{Width: 2560, Height: 30000, Bytes: 60 * 1024 * 1024}

	var oversize *OversizeError
	if !errors.As(error(err), &oversize) {
		t.Fatal("应能还原为OversizeError")
	}
	if oversize.Width != 2560 || oversize.Height != 30000 {
		t.Errorf("尺寸信息不正确: %dx%d", oversize.Width, oversize.Height)
	}
}
