package semaphore

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// 创建测试用的并发闸门
func newTestController(max int) *SemaphoreController {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = max
	return NewSemaphoreController(cfg)
}

// TestImmediateGrant 测试有空闲许可时立即放行
func TestImmediateGrant(t *testing.T) {
	sc := newTestController(5)

	for i := 0; i < 5; i++ {
		if err := sc.AcquireTimeout(10 * time.Millisecond); err != nil {
			t.Fatalf("第%d次获取不应失败: %v", i+1, err)
		}
	}

	if sc.Current() != 5 {
		t.Errorf("当前许可数不正确: %d", sc.Current())
	}
}

// TestQueueTimeout 测试满载时排队超时失败
func TestQueueTimeout(t *testing.T) {
	sc := newTestController(5)

	for i := 0; i < 5; i++ {
		if err := sc.AcquireTimeout(time.Second); err != nil {
			t.Fatalf("预置许可失败: %v", err)
		}
	}

	// 第6次获取在无人释放的情况下应超时
	err := sc.AcquireTimeout(10 * time.Millisecond)
	if !errors.Is(err, ErrQueueTimeout) {
		t.Fatalf("期望排队超时错误，实际: %v", err)
	}

	if sc.Waiting() != 0 {
		t.Errorf("超时后等待者应被移出队列，剩余: %d", sc.Waiting())
	}
}

// TestHandoff 测试释放时直接移交许可给等待者
func TestHandoff(t *testing.T) {
	sc := newTestController(5)

	for i := 0; i < 5; i++ {
		sc.AcquireTimeout(time.Second)
	}

	done := make(chan error, 1)
	go func() {
		done <- sc.AcquireTimeout(time.Second)
	}()

	// 等待第6个请求进入队列
	for sc.Waiting() == 0 {
		time.Sleep(time.Millisecond)
	}

	sc.Release()

	if err := <-done; err != nil {
		t.Fatalf("释放后等待者应获得许可: %v", err)
	}

	// 移交不改变计数
	if sc.Current() != 5 {
		t.Errorf("移交后许可数应保持5，实际: %d", sc.Current())
	}
}

// TestFIFOOrder 测试等待者按先进先出顺序放行
func TestFIFOOrder(t *testing.T) {
	sc := newTestController(1)
	sc.AcquireTimeout(time.Second)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			if err := sc.AcquireTimeout(5 * time.Second); err != nil {
				t.Errorf("等待者%d获取失败: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		// 保证入队顺序确定
		for sc.Waiting() < i {
			time.Sleep(time.Millisecond)
		}
	}

	for i := 0; i < 3; i++ {
		sc.Release()
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	for i, got := range order {
		if got != i+1 {
			t.Fatalf("放行顺序不是先进先出: %v", order)
		}
	}
}

// TestCurrentNeverExceedsMax 测试高并发下许可数不超过上限
func TestCurrentNeverExceedsMax(t *testing.T) {
	sc := newTestController(5)

	var active int64
	var peak int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sc.AcquireTimeout(5 * time.Second); err != nil {
				return
			}
			n := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&active, -1)
			sc.Release()
		}()
	}
	wg.Wait()

	if peak > 5 {
		t.Errorf("观测到的并发峰值超过上限: %d", peak)
	}
	if sc.Current() != 0 {
		t.Errorf("全部释放后许可数应为0，实际: %d", sc.Current())
	}
}

// TestReleaseNeverNegative 测试多余的释放不会使计数为负
func TestReleaseNeverNegative(t *testing.T) {
	sc := newTestController(5)
	sc.Release()
	sc.Release()

	if sc.Current() != 0 {
		t.Errorf("许可数不应为负: %d", sc.Current())
	}
}
