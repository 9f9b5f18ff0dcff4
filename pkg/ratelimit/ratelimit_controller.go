// Package ratelimit 提供按客户端标识的请求频率限制
// 本地固定窗口为主，可选启用Redis分布式滑动窗口作为全局保护
package ratelimit

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"screenshot_service/pkg/redis"
)

// RateLimitController 请求频率限制控制器
type RateLimitController struct {
	redisClient *redis.RedisClient      // Redis客户端，为nil时仅使用本地窗口
	config      Config                  // 配置信息
	windows     map[string]*RateWindow  // 客户端标识对应的窗口
	mu          sync.Mutex              // 保护窗口映射的互斥锁
	stop        chan struct{}           // 停止清理协程的信号
}

// RateWindow 单个客户端的限流窗口
// 首次请求时惰性创建，窗口过期后在下次访问时透明重置
type RateWindow struct {
	Count     int       // 当前窗口内的请求数
	ExpiresAt time.Time // 窗口过期时间
}

// Decision 限流判定结果
type Decision struct {
	Allowed    bool // 是否允许本次请求
	RetryAfter int  // 拒绝时建议的重试等待秒数
}

// NewRateLimitController 创建新的限流控制器
// redisClient 可以为nil，此时只做本地限流
func NewRateLimitController(redisClient *redis.RedisClient, config Config) *RateLimitController {
	rlc := &RateLimitController{
		redisClient: redisClient,
		config:      config,
		windows:     make(map[string]*RateWindow),
		stop:        make(chan struct{}),
	}

	// 启动过期窗口清理，内存占用随活跃客户端数而非历史客户端数增长
	go rlc.startSweeper()

	return rlc
}

// Admit 判定客户端的请求是否允许通过
func (rlc *RateLimitController) Admit(clientID string) Decision {
	now := time.Now()

	rlc.mu.Lock()
	window, exists := rlc.windows[clientID]
	if !exists || now.After(window.ExpiresAt) {
		// 新客户端或窗口已过期，重置窗口
		rlc.windows[clientID] = &RateWindow{
			Count:     1,
			ExpiresAt: now.Add(rlc.config.WindowSize),
		}
		rlc.mu.Unlock()
	} else {
		window.Count++
		if window.Count > rlc.config.WindowLimit {
			retryAfter := int(math.Ceil(time.Until(window.ExpiresAt).Seconds()))
			rlc.mu.Unlock()
			if retryAfter < 1 {
				retryAfter = 1
			}
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
		rlc.mu.Unlock()
	}

	// 本地窗口通过后再检查分布式窗口
	if rlc.redisClient != nil {
		allowed, err := rlc.checkDistributedLimit(clientID)
		if err != nil {
			// Redis不可用时降级为仅本地限流
			log.Printf("分布式限流检查失败，降级为仅本地限流: %v", err)
		} else if !allowed {
			return Decision{
				Allowed:    false,
				RetryAfter: int(rlc.config.WindowSize.Seconds()),
			}
		}
	}

	return Decision{Allowed: true}
}

// ActiveClients 返回当前持有窗口的客户端数量
func (rlc *RateLimitController) ActiveClients() int {
	rlc.mu.Lock()
	defer rlc.mu.Unlock()
	return len(rlc.windows)
}

// Close 停止后台清理协程
func (rlc *RateLimitController) Close() {
	close(rlc.stop)
}

// checkDistributedLimit 检查Redis分布式滑动窗口
// 用于多实例部署时的全局请求量保护
func (rlc *RateLimitController) checkDistributedLimit(clientID string) (bool, error) {
	key := fmt.Sprintf("%s:%s:requests", rlc.config.RedisKeyPrefix, clientID)

	now := time.Now().UnixNano()
	windowStart := now - rlc.config.WindowSize.Nanoseconds()

	// 清理过期的请求记录
	if err := rlc.redisClient.ZRemRangeByScore(key, 0, float64(windowStart)); err != nil {
		return false, err
	}

	// 添加当前请求记录
	if err := rlc.redisClient.ZAdd(key, float64(now), fmt.Sprintf("%d", now)); err != nil {
		return false, err
	}

	// 设置键过期，避免不活跃客户端的键残留
	if err := rlc.redisClient.Expire(key, rlc.config.WindowSize*2); err != nil {
		return false, err
	}

	count, err := rlc.redisClient.ZCount(key, float64(windowStart), float64(now))
	if err != nil {
		return false, err
	}

	return count <= rlc.config.RedisWindowCap, nil
}

// startSweeper 定期清理已过期的窗口
func (rlc *RateLimitController) startSweeper() {
	ticker := time.NewTicker(rlc.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rlc.sweep()
		case <-rlc.stop:
			return
		}
	}
}

// sweep 移除所有窗口已过期的客户端记录
func (rlc *RateLimitController) sweep() {
	now := time.Now()

	rlc.mu.Lock()
	defer rlc.mu.Unlock()

	for clientID, window := range rlc.windows {
		if now.After(window.ExpiresAt) {
			delete(rlc.windows, clientID)
		}
	}
}
