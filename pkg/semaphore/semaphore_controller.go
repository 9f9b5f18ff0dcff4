// Package semaphore 提供带排队和超时的有界并发闸门
// 保证全局截图并发数不超过上限，排队请求按先进先出顺序获得许可
package semaphore

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueTimeout 排队等待超时
var ErrQueueTimeout = errors.New("排队等待超时，服务繁忙")

// SemaphoreController 并发闸门控制器
// current 永远不超过 max，也永远不会为负
type SemaphoreController struct {
	config  Config
	mu      sync.Mutex
	current int       // 当前持有的许可数
	waiters []*waiter // 等待队列，先进先出
}

// waiter 单个排队等待者
// granted 在持锁状态下置位，用于消除超时与放行之间的竞争：
// 一个等待者要么获得许可，要么超时失败，不会两者皆是
type waiter struct {
	ready   chan struct{} // 放行信号
	granted bool          // 是否已被放行
}

// NewSemaphoreController 创建新的并发闸门
func NewSemaphoreController(config Config) *SemaphoreController {
	return &SemaphoreController{config: config}
}

// Acquire 获取一个许可，使用配置的默认排队超时
func (sc *SemaphoreController) Acquire() error {
	return sc.AcquireTimeout(sc.config.QueueTimeout)
}

// AcquireTimeout 获取一个许可
// 有空闲许可时立即返回，否则进入队列等待；超过deadline仍未放行则失败
func (sc *SemaphoreController) AcquireTimeout(deadline time.Duration) error {
	sc.mu.Lock()
	if sc.current < sc.config.MaxConcurrent {
		sc.current++
		sc.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	sc.waiters = append(sc.waiters, w)
	sc.mu.Unlock()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-w.ready:
		return nil
	case <-timer.C:
		sc.mu.Lock()
		if w.granted {
			// 超时与放行同时发生，放行已生效，许可归本调用方
			sc.mu.Unlock()
			return nil
		}
		sc.removeWaiter(w)
		sc.mu.Unlock()
		return ErrQueueTimeout
	}
}

// Release 释放一个许可
// 队列非空时直接把许可移交给最早的等待者，current保持不变；
// 否则递减current
func (sc *SemaphoreController) Release() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if len(sc.waiters) > 0 {
		w := sc.waiters[0]
		sc.waiters = sc.waiters[1:]
		w.granted = true
		close(w.ready)
		return
	}

	if sc.current > 0 {
		sc.current--
	}
}

// Current 返回当前持有的许可数
func (sc *SemaphoreController) Current() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

// Waiting 返回当前排队等待的请求数
func (sc *SemaphoreController) Waiting() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.waiters)
}

// removeWaiter 从等待队列中移除指定等待者，调用方需持锁
func (sc *SemaphoreController) removeWaiter(target *waiter) {
	for i, w := range sc.waiters {
		if w == target {
			sc.waiters = append(sc.waiters[:i], sc.waiters[i+1:]...)
			return
		}
	}
}
