// Package browser 管理唯一的Chrome实例及其生命周期
// 长期运行的浏览器进程会积累内存和不稳定性，按截图次数和存活时间
// 定期整体替换实例，避免按请求反复拉起进程的开销
package browser

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserController 浏览器生命周期控制器
// 全程只存在一个浏览器实例，替换时先整体拆除旧实例再启动新实例
type BrowserController struct {
	config Config

	mu            sync.Mutex         // 保护实例状态，重启在锁内完成因此天然合并
	allocCancel   context.CancelFunc // 进程分配器的取消函数
	browserCtx    context.Context    // 浏览器根上下文，各截图会话从它派生标签页
	browserCancel context.CancelFunc // 浏览器上下文的取消函数
	screenshots   int64              // 当前实例已完成的截图数
	launchedAt    time.Time          // 当前实例的启动时间
}

// NewBrowserController 创建新的浏览器生命周期控制器
// 实例按需惰性启动，创建控制器本身不拉起Chrome
func NewBrowserController(config Config) *BrowserController {
	return &BrowserController{config: config}
}

// Obtain 获取可用的浏览器上下文
// 每次获取时评估重启策略：实例不存在、连接断开、截图数达到上限
// 或存活时间超限都会触发重启
func (bc *BrowserController) Obtain() (context.Context, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.needsRestart(time.Now()) {
		if err := bc.restart(); err != nil {
			return nil, err
		}
	}

	return bc.browserCtx, nil
}

// RecordScreenshot 记录一次成功完成的截图
// 只按成功计数，失败的尝试不推进重启阈值
func (bc *BrowserController) RecordScreenshot() {
	bc.mu.Lock()
	bc.screenshots++
	bc.mu.Unlock()
}

// Status 返回当前实例的运行状态，用于健康检查
func (bc *BrowserController) Status() (alive bool, uptime time.Duration, screenshots int64) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	alive = bc.browserCtx != nil && bc.browserCtx.Err() == nil
	if alive {
		uptime = time.Since(bc.launchedAt)
	}
	return alive, uptime, bc.screenshots
}

// Close 关闭浏览器实例
func (bc *BrowserController) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.teardown()
}

// needsRestart 评估重启策略，调用方需持锁
func (bc *BrowserController) needsRestart(now time.Time) bool {
	if bc.browserCtx == nil {
		return true
	}
	// 浏览器进程退出时chromedp会取消其上下文
	if bc.browserCtx.Err() != nil {
		return true
	}
	if bc.screenshots >= bc.config.MaxScreenshots {
		return true
	}
	if now.Sub(bc.launchedAt) >= bc.config.MaxAge {
		return true
	}
	return false
}

// restart 替换浏览器实例，调用方需持锁
// 旧实例尽力拆除，拆除失败不阻止新实例启动
func (bc *BrowserController) restart() error {
	bc.teardown()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features=AutomationControlled", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if bc.config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(bc.config.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// 空任务触发浏览器进程真正启动
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("启动Chrome失败: %w", err)
	}

	bc.allocCancel = allocCancel
	bc.browserCtx = browserCtx
	bc.browserCancel = browserCancel
	bc.screenshots = 0
	bc.launchedAt = time.Now()

	log.Printf("Chrome实例启动成功")
	return nil
}

// teardown 拆除当前实例，调用方需持锁
func (bc *BrowserController) teardown() {
	if bc.browserCancel != nil {
		bc.browserCancel()
		bc.browserCancel = nil
	}
	if bc.allocCancel != nil {
		bc.allocCancel()
		bc.allocCancel = nil
	}
	bc.browserCtx = nil
}
