package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"screenshot_service/pkg/browser"
	"screenshot_service/pkg/capture"
	"screenshot_service/pkg/ratelimit"
	"screenshot_service/pkg/semaphore"
	"screenshot_service/pkg/validator"
)

// fakeRunner 测试用的假截图执行器
type fakeRunner struct {
	result *capture.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, targetURL string, opts *capture.Options) (*capture.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// 最小的PNG文件头，测试中代替真实截图数据
var fakePNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// 创建测试用的服务控制器
func newTestServer(t *testing.T, runner CaptureRunner, limit int) *ServerController {
	t.Helper()

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.WindowLimit = limit
	limiter := ratelimit.NewRateLimitController(nil, rlCfg)
	t.Cleanup(limiter.Close)

	gateCfg := semaphore.DefaultConfig()
	gateCfg.QueueTimeout = 20 * time.Millisecond
	gate := semaphore.NewSemaphoreController(gateCfg)

	return NewServerController(
		NewLoggerManager(),
		validator.NewValidatorController(validator.DefaultConfig()),
		limiter,
		gate,
		runner,
		browser.NewBrowserController(browser.DefaultConfig()),
	)
}

// 发送截图请求
func postScreenshot(sc *ServerController, body string, clientIP string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/screenshot", strings.NewReader(body))
	req.RemoteAddr = clientIP + ":12345"
	w := httptest.NewRecorder()
	sc.Routes().ServeHTTP(w, req)
	return w
}

// TestMissingURL 测试缺少url字段返回400
func TestMissingURL(t *testing.T) {
	sc := newTestServer(t, &fakeRunner{}, 100)

	w := postScreenshot(sc, `{}`, "1.2.3.4")
	if w.Code != http.StatusBadRequest {
		t.Errorf("状态码不正确: %d", w.Code)
	}

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] == nil {
		t.Error("错误响应应包含error字段")
	}
}

// TestInvalidTargets 测试无效目标和内网目标返回400
func TestInvalidTargets(t *testing.T) {
	sc := newTestServer(t, &fakeRunner{}, 100)

	cases := []string{
		`{"url": "ftp://example.com/"}`,
		`{"url": "http://169.254.169.254/latest/meta-data/"}`,
		`{"url": "http://127.0.0.1/admin"}`,
		`{"url": "not-a-url"}`,
	}

	for _, body := range cases {
		w := postScreenshot(sc, body, "1.2.3.4")
		if w.Code != http.StatusBadRequest {
			t.Errorf("请求 %s 状态码不正确: %d", body, w.Code)
		}
	}
}

// TestRateLimitResponse 测试限流响应携带重试信息
func TestRateLimitResponse(t *testing.T) {
	runner := &fakeRunner{result: &capture.Result{ImageBytes: fakePNG, Width: 2560, Height: 1600}}
	sc := newTestServer(t, runner, 2)

	body := `{"url": "http://8.8.8.8/"}`
	postScreenshot(sc, body, "9.9.9.9")
	postScreenshot(sc, body, "9.9.9.9")

	w := postScreenshot(sc, body, "9.9.9.9")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("第3次请求应被限流: %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("限流响应应携带Retry-After头")
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["retryAfter"] == nil {
		t.Error("限流响应体应包含retryAfter")
	}

	// 其他客户端不受影响
	w = postScreenshot(sc, body, "8.8.4.4")
	if w.Code != http.StatusOK {
		t.Errorf("其他客户端不应被限流: %d", w.Code)
	}
}

// TestGateSaturation 测试并发闸门饱和时返回503
func TestGateSaturation(t *testing.T) {
	runner := &fakeRunner{result: &capture.Result{ImageBytes: fakePNG, Width: 2560, Height: 1600}}
	sc := newTestServer(t, runner, 100)

	// 占满全部许可
	for i := 0; i < 5; i++ {
		if err := sc.gate.AcquireTimeout(time.Second); err != nil {
			t.Fatalf("预置许可失败: %v", err)
		}
	}

	w := postScreenshot(sc, `{"url": "http://8.8.8.8/"}`, "1.2.3.4")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("闸门饱和时状态码不正确: %d", w.Code)
	}
}

// TestSuccessHeaders 测试成功响应的头部信息
func TestSuccessHeaders(t *testing.T) {
	runner := &fakeRunner{result: &capture.Result{
		ImageBytes:       fakePNG,
		Width:            2560,
		Height:           30000,
		Truncated:        true,
		SelectorTimedOut: true,
	}}
	sc := newTestServer(t, runner, 100)

	w := postScreenshot(sc, `{"url": "http://8.8.8.8/page"}`, "1.2.3.4")
	if w.Code != http.StatusOK {
		t.Fatalf("状态码不正确: %d", w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type不正确: %s", ct)
	}
	if w.Header().Get("X-Screenshot-Width") != "2560" {
		t.Errorf("宽度头不正确: %s", w.Header().Get("X-Screenshot-Width"))
	}
	if w.Header().Get("X-Screenshot-Height") != "30000" {
		t.Errorf("高度头不正确: %s", w.Header().Get("X-Screenshot-Height"))
	}
	if w.Header().Get("X-Screenshot-Truncated") != "true" {
		t.Error("缺少截断标志头")
	}
	if w.Header().Get("X-Selector-Timeout") != "true" {
		t.Error("缺少选择器超时标志头")
	}
	if w.Header().Get("X-Capture-Time-Ms") == "" {
		t.Error("缺少耗时头")
	}

	disposition := w.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "screenshot-8.8.8.8-") {
		t.Errorf("下载文件名不正确: %s", disposition)
	}
}

// TestOversizeResponse 测试超大输出返回413并携带尺寸
func TestOversizeResponse(t *testing.T) {
	runner := &fakeRunner{err: &capture.OversizeError{Width: 2560, Height: 30000, Bytes: 60 << 20}}
	sc := newTestServer(t, runner, 100)

	w := postScreenshot(sc, `{"url": "http://8.8.8.8/"}`, "1.2.3.4")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("状态码不正确: %d", w.Code)
	}

	var resp struct {
		Error      string `json:"error"`
		Dimensions struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"dimensions"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Dimensions.Width != 2560 || resp.Dimensions.Height != 30000 {
		t.Errorf("尺寸信息不正确: %+v", resp.Dimensions)
	}
}

// TestHealthEndpoint 测试健康检查
func TestHealthEndpoint(t *testing.T) {
	sc := newTestServer(t, &fakeRunner{}, 100)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	sc.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("状态码不正确: %d", w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("状态字段不正确: %v", resp["status"])
	}
	// 浏览器未启动时报告dead
	if resp["browser"] != "dead" {
		t.Errorf("浏览器状态不正确: %v", resp["browser"])
	}
}

// TestSanitizeHostname 测试文件名中主机名的清理
func TestSanitizeHostname(t *testing.T) {
	cases := map[string]string{
		"example.com":     "example.com",
		"sub.example.com": "sub.example.com",
		"a:b/c\\d":        "a_b_c_d",
		"日本語.jp":          "___.jp",
	}

	for in, want := range cases {
		if got := sanitizeHostname(in); got != want {
			t.Errorf("sanitizeHostname(%q) = %q, 期望 %q", in, got, want)
		}
	}
}
