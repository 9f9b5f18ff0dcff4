// controllers/server.go
package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"screenshot_service/pkg/browser"
	"screenshot_service/pkg/capture"
	"screenshot_service/pkg/ratelimit"
	"screenshot_service/pkg/semaphore"
	"screenshot_service/pkg/validator"

	"github.com/google/uuid"
)

// CaptureRunner 截图执行接口
// 测试中用假实现替换真实的编排器
type CaptureRunner interface {
	Run(ctx context.Context, targetURL string, opts *capture.Options) (*capture.Result, error)
}

// ServerController HTTP服务控制器
// 按 限流 → 校验 → 并发闸门 → 编排 的顺序处理每个截图请求
type ServerController struct {
	logger      *LoggerManager
	validator   *validator.ValidatorController
	limiter     *ratelimit.RateLimitController
	gate        *semaphore.SemaphoreController
	runner      CaptureRunner
	browserCtrl *browser.BrowserController
	startedAt   time.Time
}

// NewServerController 创建新的HTTP服务控制器
func NewServerController(
	logger *LoggerManager,
	v *validator.ValidatorController,
	limiter *ratelimit.RateLimitController,
	gate *semaphore.SemaphoreController,
	runner CaptureRunner,
	browserCtrl *browser.BrowserController,
) *ServerController {
	return &ServerController{
		logger:      logger,
		validator:   v,
		limiter:     limiter,
		gate:        gate,
		runner:      runner,
		browserCtrl: browserCtrl,
		startedAt:   time.Now(),
	}
}

// Routes 注册全部路由
func (sc *ServerController) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/screenshot", sc.handleScreenshot)
	mux.HandleFunc("/health", sc.handleHealth)
	return mux
}

// screenshotRequest 截图请求体
// 指针字段用于区分"未传"和显式的零值
type screenshotRequest struct {
	URL      string `json:"url"`
	Viewport *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"viewport"`
	DeviceScaleFactor *int   `json:"deviceScaleFactor"`
	FullPage          *bool  `json:"fullPage"`
	DarkMode          bool   `json:"darkMode"`
	WaitTime          int    `json:"waitTime"`
	WaitForSelector   string `json:"waitForSelector"`
	CustomCSS         string `json:"customCss"`
}

// handleScreenshot 处理截图请求
func (sc *ServerController) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持POST请求", nil)
		return
	}

	reqID := uuid.NewString()[:8]
	clientIP := clientAddress(r)

	var req screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败", nil)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "缺少必填字段url", nil)
		return
	}

	// 限流判定
	decision := sc.limiter.Admit(clientIP)
	if !decision.Allowed {
		sc.logger.Logf("WARN", "[%s] 客户端 %s 触发限流", reqID, clientIP)
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "请求过于频繁", map[string]interface{}{
			"retryAfter": decision.RetryAfter,
		})
		return
	}

	// 选项规范化，一次完成，编排器不再复查
	opts := sc.buildOptions(&req)
	if err := opts.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	// 目标校验
	target, err := sc.validator.Validate(r.Context(), req.URL)
	if err != nil {
		sc.logger.Logf("WARN", "[%s] 目标校验失败: %v", reqID, err)
		writeError(w, http.StatusBadRequest, validationMessage(err), nil)
		return
	}

	// 并发闸门
	if err := sc.gate.Acquire(); err != nil {
		if errors.Is(err, semaphore.ErrQueueTimeout) {
			writeError(w, http.StatusServiceUnavailable, "服务繁忙，请稍后重试", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "内部错误", nil)
		return
	}
	defer sc.gate.Release()

	sc.logger.Logf("INFO", "[%s] 开始截图: %s (客户端 %s)", reqID, target.CanonicalURL, clientIP)
	start := time.Now()

	result, err := sc.runner.Run(r.Context(), target.CanonicalURL, opts)
	if err != nil {
		var oversize *capture.OversizeError
		if errors.As(err, &oversize) {
			writeError(w, http.StatusRequestEntityTooLarge, "输出图片超过大小上限", map[string]interface{}{
				"dimensions": map[string]int{
					"width":  oversize.Width,
					"height": oversize.Height,
				},
			})
			return
		}

		sc.logger.Logf("ERROR", "[%s] 截图失败: %v", reqID, err)
		writeError(w, http.StatusInternalServerError, "截图失败", nil)
		return
	}

	elapsed := time.Since(start)
	sc.logger.Logf("INFO", "[%s] 截图完成: %dx%d %d字节 耗时%dms",
		reqID, result.Width, result.Height, len(result.ImageBytes), elapsed.Milliseconds())

	filename := fmt.Sprintf("screenshot-%s-%d.png", sanitizeHostname(target.Hostname), time.Now().Unix())
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Screenshot-Width", strconv.Itoa(result.Width))
	w.Header().Set("X-Screenshot-Height", strconv.Itoa(result.Height))
	w.Header().Set("X-Capture-Time-Ms", strconv.FormatInt(elapsed.Milliseconds(), 10))
	if result.Truncated {
		w.Header().Set("X-Screenshot-Truncated", "true")
	}
	if result.SelectorTimedOut {
		w.Header().Set("X-Selector-Timeout", "true")
	}
	w.Write(result.ImageBytes)
}

// handleHealth 健康检查
func (sc *ServerController) handleHealth(w http.ResponseWriter, r *http.Request) {
	alive, uptime, screenshots := sc.browserCtrl.Status()

	browserState := "dead"
	if alive {
		browserState = "alive"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "ok",
		"browser":         browserState,
		"uptime":          int(uptime.Seconds()),
		"screenshotCount": screenshots,
		"activeClients":   sc.limiter.ActiveClients(),
	})
}

// buildOptions 把请求体映射为截图选项，未传的字段取默认值
func (sc *ServerController) buildOptions(req *screenshotRequest) *capture.Options {
	opts := capture.DefaultOptions()

	if req.Viewport != nil {
		opts.ViewportWidth = req.Viewport.Width
		opts.ViewportHeight = req.Viewport.Height
	}
	if req.DeviceScaleFactor != nil {
		opts.ScaleFactor = *req.DeviceScaleFactor
	}
	if req.FullPage != nil {
		opts.FullPage = *req.FullPage
	}
	opts.DarkMode = req.DarkMode
	opts.WaitTime = time.Duration(req.WaitTime) * time.Millisecond
	opts.WaitForSelector = req.WaitForSelector
	opts.CustomCSS = req.CustomCSS

	return opts
}

// validationMessage 把校验错误映射为对外的错误描述
func validationMessage(err error) string {
	switch {
	case errors.Is(err, validator.ErrSchemeNotAllowed):
		return "仅支持http和https协议"
	case errors.Is(err, validator.ErrPrivateNetworkBlocked):
		return "目标地址不允许访问"
	default:
		return "无效的URL"
	}
}

// writeError 输出JSON错误响应
func writeError(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{"error": message}
	for k, v := range extra {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// clientAddress 提取客户端IP，优先使用代理传递的真实地址
func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sanitizeHostname 清理主机名用于生成下载文件名
// 只保留字母、数字、点和连字符
func sanitizeHostname(hostname string) string {
	var b strings.Builder
	for _, c := range hostname {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
