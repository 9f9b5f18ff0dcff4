// Package capture 实现截图会话的编排
// 驱动一次渲染会话完整走过导航、动态内容稳定、截断和输出大小检查；
// 导航过程中的每一跳重定向都交回校验器复查，防止提交时合法的URL
// 经重定向进入内网
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"screenshot_service/pkg/browser"
	"screenshot_service/pkg/useragent"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Result 一次成功截图的产出
type Result struct {
	ImageBytes       []byte // PNG图片数据
	Width            int    // 输出宽度（像素，已乘缩放因子）
	Height           int    // 输出高度（像素，已乘缩放因子）
	Truncated        bool   // 是否因高度超限被截断
	SelectorTimedOut bool   // 等待的选择器是否超时未出现
}

// RedirectCheck 重定向复查钩子
// 在导航拦截中同步调用，返回该跳是否允许继续
type RedirectCheck func(rawURL string) bool

// CaptureController 截图编排控制器
type CaptureController struct {
	config        Config
	browserCtrl   *browser.BrowserController
	uaCtrl        *useragent.UserAgentController
	redirectCheck RedirectCheck
}

// NewCaptureController 创建新的截图编排控制器
func NewCaptureController(config Config, browserCtrl *browser.BrowserController, uaCtrl *useragent.UserAgentController, redirectCheck RedirectCheck) *CaptureController {
	return &CaptureController{
		config:        config,
		browserCtrl:   browserCtrl,
		uaCtrl:        uaCtrl,
		redirectCheck: redirectCheck,
	}
}

// 中和自动化特征的页面初始化脚本
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
`

// Run 执行一次完整的截图会话
// targetURL必须是已通过校验的规范化URL；opts必须已经过Normalize
func (cc *CaptureController) Run(ctx context.Context, targetURL string, opts *Options) (*Result, error) {
	browserCtx, err := cc.browserCtrl.Obtain()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
	}

	// 每次会话使用独立的标签页，结束时无条件关闭
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	// 请求方取消时同步关闭标签页
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-done:
		}
	}()

	result := &Result{}

	// 1. 会话环境：视口、缩放、配色、UA和反检测脚本
	if err := cc.setupSession(tabCtx, opts); err != nil {
		return nil, fmt.Errorf("会话环境初始化失败: %w", err)
	}

	// 2. 导航，逐跳复查重定向
	cc.installRedirectInterceptor(tabCtx)
	if err := cc.navigate(tabCtx, targetURL); err != nil {
		return nil, err
	}

	// 3. 字体加载，超时不致命
	cc.runSoft(tabCtx, cc.config.FontTimeout, "字体加载",
		evalPromise(`document.fonts.ready.then(() => true)`, nil))

	// 4. 可选的选择器等待，超时记入结果但继续截图
	if opts.WaitForSelector != "" {
		if err := cc.runSoft(tabCtx, cc.config.SelectorTimeout, "选择器等待",
			chromedp.WaitVisible(opts.WaitForSelector, chromedp.ByQuery)); err != nil {
			result.SelectorTimedOut = true
		}
	}

	// 5. 懒加载滚动：按视口高度逐步滚到底部再回到顶部，尽力触发懒加载内容
	if opts.FullPage {
		cc.runSoft(tabCtx, cc.config.ScrollTimeout, "懒加载滚动",
			evalPromise(lazyScrollScript, nil))
	}

	// 6. 自定义样式注入
	if opts.CustomCSS != "" {
		if err := chromedp.Run(tabCtx, injectCSS(opts.CustomCSS)); err != nil {
			return nil, fmt.Errorf("注入自定义样式失败: %w", err)
		}
	}

	// 7. 固定等待
	if opts.WaitTime > 0 {
		if err := chromedp.Run(tabCtx, chromedp.Sleep(opts.WaitTime)); err != nil {
			return nil, fmt.Errorf("固定等待失败: %w", err)
		}
	}

	// 8. 图片加载，超时不致命
	cc.runSoft(tabCtx, cc.config.ImageTimeout+time.Second, "图片加载",
		evalPromise(imageSettleScript(cc.config.ImageTimeout), nil))

	// 9. 测量文档高度并做截断决策
	docHeight, err := cc.measureHeight(tabCtx)
	if err != nil {
		return nil, fmt.Errorf("测量文档高度失败: %w", err)
	}

	captureHeight, truncated := decideCaptureHeight(opts.FullPage, docHeight, opts.ViewportHeight, cc.config.MaxHeight)
	if truncated {
		result.Truncated = true
	}

	// 10. 高页面的布局固定：fixed/sticky元素改写、冻结动画，改写后重新测量
	if captureHeight > opts.ViewportHeight {
		if err := chromedp.Run(tabCtx, evalPromise(stabilizeLayoutScript, nil)); err != nil {
			return nil, fmt.Errorf("布局固定失败: %w", err)
		}

		// 改写可能改变布局，重新测量并重新做截断决策
		newHeight, err := cc.measureHeight(tabCtx)
		if err != nil {
			return nil, fmt.Errorf("重新测量文档高度失败: %w", err)
		}
		captureHeight, truncated = decideCaptureHeight(opts.FullPage, newHeight, opts.ViewportHeight, cc.config.MaxHeight)
		if truncated {
			result.Truncated = true
		}

		if result.Truncated {
			clampScript := fmt.Sprintf(
				`document.documentElement.style.maxHeight = '%dpx'; document.documentElement.style.overflow = 'hidden'; true`,
				cc.config.MaxHeight)
			if err := chromedp.Run(tabCtx, chromedp.Evaluate(clampScript, nil)); err != nil {
				return nil, fmt.Errorf("截断样式覆盖失败: %w", err)
			}
		}
	}

	// 11. 截图：全页截取扩展到捕获高度，否则仅视口
	var buf []byte
	fullDocument := opts.FullPage && captureHeight > opts.ViewportHeight
	if err := chromedp.Run(tabCtx, cc.screenshotAction(&buf, opts, captureHeight, fullDocument)); err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}

	outWidth := opts.ViewportWidth * opts.ScaleFactor
	outHeight := captureHeight * opts.ScaleFactor
	if !opts.FullPage {
		outHeight = opts.ViewportHeight * opts.ScaleFactor
	}

	// 12. 输出大小检查：超限时报告本应产出的尺寸而不返回部分数据
	if len(buf) > cc.config.MaxOutputBytes {
		return nil, &OversizeError{Width: outWidth, Height: outHeight, Bytes: len(buf)}
	}

	result.ImageBytes = buf
	result.Width = outWidth
	result.Height = outHeight

	// 成功完成时推进实例的截图计数，恰好一次
	cc.browserCtrl.RecordScreenshot()

	return result, nil
}

// setupSession 配置会话环境
func (cc *CaptureController) setupSession(tabCtx context.Context, opts *Options) error {
	ua := cc.uaCtrl.GetRandomUA()

	actions := []chromedp.Action{
		// 只拦截文档类请求，每一跳导航在请求阶段暂停等待复查
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{
			URLPattern:   "*",
			ResourceType: network.ResourceTypeDocument,
			RequestStage: fetch.RequestStageRequest,
		}}),
		emulation.SetDeviceMetricsOverride(int64(opts.ViewportWidth), int64(opts.ViewportHeight), float64(opts.ScaleFactor), false),
		emulation.SetUserAgentOverride(ua),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}

	if opts.DarkMode {
		actions = append(actions, emulation.SetEmulatedMedia().WithFeatures([]*emulation.MediaFeature{
			{Name: "prefers-color-scheme", Value: "dark"},
		}))
	}

	return chromedp.Run(tabCtx, actions...)
}

// installRedirectInterceptor 安装导航拦截
// 每个被暂停的文档请求交给重定向复查钩子判定，拒绝时中止该次请求
func (cc *CaptureController) installRedirectInterceptor(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}

		// 拦截回调内不能同步发送CDP命令，放到独立协程执行
		go func() {
			c := chromedp.FromContext(tabCtx)
			execCtx := cdp.WithExecutor(tabCtx, c.Target)

			if cc.redirectCheck(paused.Request.URL) {
				if err := fetch.ContinueRequest(paused.RequestID).Do(execCtx); err != nil {
					log.Printf("放行导航请求失败: %v", err)
				}
				return
			}

			log.Printf("重定向目标被拦截: %s", paused.Request.URL)
			if err := fetch.FailRequest(paused.RequestID, network.ErrorReasonAccessDenied).Do(execCtx); err != nil {
				log.Printf("中止导航请求失败: %v", err)
			}
		}()
	})
}

// navigate 加载目标页面，等待主体就绪
func (cc *CaptureController) navigate(tabCtx context.Context, targetURL string) error {
	navCtx, cancel := context.WithTimeout(tabCtx, cc.config.NavigateTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrNavigationTimeout, targetURL)
		}
		return fmt.Errorf("页面导航失败: %w", err)
	}
	return nil
}

// decideCaptureHeight 计算本次截图的捕获高度和截断标志
// 全页模式下文档高于上限时截断到上限；非全页固定为视口高度
func decideCaptureHeight(fullPage bool, docHeight, viewportHeight, maxHeight int) (int, bool) {
	if !fullPage {
		return viewportHeight, false
	}

	height := docHeight
	truncated := false
	if height > maxHeight {
		height = maxHeight
		truncated = true
	}
	if height < viewportHeight {
		height = viewportHeight
	}
	return height, truncated
}

// measureHeight 测量文档总高度
func (cc *CaptureController) measureHeight(tabCtx context.Context) (int, error) {
	var height int
	err := chromedp.Run(tabCtx, chromedp.Evaluate(
		`Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)`,
		&height))
	return height, err
}

// screenshotAction 构造截图动作
// 全页模式按捕获高度裁剪并允许超出视口截取，否则截取当前视口
func (cc *CaptureController) screenshotAction(buf *[]byte, opts *Options, captureHeight int, fullDocument bool) chromedp.Action {
	if !fullDocument {
		return chromedp.CaptureScreenshot(buf)
	}

	return chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{
				X:      0,
				Y:      0,
				Width:  float64(opts.ViewportWidth),
				Height: float64(captureHeight),
				Scale:  1,
			}).
			Do(ctx)
		if err != nil {
			return err
		}
		*buf = data
		return nil
	})
}

// runSoft 执行一个允许失败的步骤
// 超时或出错只记录日志，截图流程继续
func (cc *CaptureController) runSoft(tabCtx context.Context, timeout time.Duration, name string, actions ...chromedp.Action) error {
	softCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	if err := chromedp.Run(softCtx, actions...); err != nil {
		log.Printf("%s未在限时内完成，继续截图: %v", name, err)
		return err
	}
	return nil
}

// evalPromise 执行页面脚本并等待其Promise完成
func evalPromise(script string, res interface{}) chromedp.Action {
	return chromedp.Evaluate(script, res, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
}

// injectCSS 把自定义样式作为样式表注入页面
func injectCSS(css string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		script := fmt.Sprintf(`
			(() => {
				const style = document.createElement('style');
				style.textContent = %q;
				document.head.appendChild(style);
				return true;
			})()`, css)
		return chromedp.Evaluate(script, nil).Do(ctx)
	})
}

// lazyScrollScript 按视口高度逐步滚动触发懒加载，结束后回到顶部
// 这是尽力而为的启发式，不保证懒加载内容全部出现
const lazyScrollScript = `
(async () => {
	const step = window.innerHeight;
	const total = Math.max(document.body.scrollHeight, document.documentElement.scrollHeight);
	for (let y = 0; y < total; y += step) {
		window.scrollTo(0, y);
		await new Promise(r => setTimeout(r, 150));
	}
	window.scrollTo(0, 0);
	await new Promise(r => setTimeout(r, 300));
	return true;
})()`

// stabilizeLayoutScript 高页面截图前的布局固定
// fixed元素改为absolute、sticky改为relative，避免在拼接高度的每个
// 视口边界重复出现；动画与过渡时长归零，避免截到过渡中间帧
const stabilizeLayoutScript = `
(async () => {
	for (const el of document.querySelectorAll('*')) {
		const pos = getComputedStyle(el).position;
		if (pos === 'fixed') {
			el.style.position = 'absolute';
		} else if (pos === 'sticky') {
			el.style.position = 'relative';
		}
	}
	const style = document.createElement('style');
	style.textContent = '*, *::before, *::after { animation-duration: 0s !important; animation-delay: 0s !important; transition-duration: 0s !important; transition-delay: 0s !important; }';
	document.head.appendChild(style);
	await new Promise(r => setTimeout(r, 100));
	return true;
})()`

// imageSettleScript 等待未完成的图片加载结束或出错，最多等指定毫秒数
func imageSettleScript(timeout time.Duration) string {
	return fmt.Sprintf(`
(async () => {
	const pending = Array.from(document.images).filter(img => !img.complete);
	await Promise.race([
		Promise.all(pending.map(img => new Promise(r => { img.onload = img.onerror = r; }))),
		new Promise(r => setTimeout(r, %d)),
	]);
	return true;
})()`, timeout.Milliseconds())
}
