package syncgroup

import "sync"

// SyncGroup 是 sync.WaitGroup 的包装器，简化 goroutine 生命周期管理
// 自动管理 Add() 和 Done()，减少遗漏 Done() 的风险
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
	running int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个 goroutine 函数
// 应该在 Run() 之前调用；如果上一批还有 goroutine 在运行，调用被忽略
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running > 0 {
		return
	}
	w.pending = append(w.pending, fn)
}

// Run 启动所有已添加的 goroutine，并清空待启动列表
func (w *SyncGroup) Run() {
	w.mu.Lock()
	if w.running > 0 {
		w.mu.Unlock()
		return
	}
	fns := w.pending
	w.pending = nil
	w.running = len(fns)
	w.mu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(doFunc func()) {
			defer func() {
				w.wg.Done()
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
			}()
			doFunc()
		}(fn)
	}
}

// WaitAndClear 等待所有 goroutine 完成并重置
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()
	w.mu.Lock()
	w.pending = nil
	w.running = 0
	w.mu.Unlock()
}

// Wait 等待所有 goroutine 完成（不重置）
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
