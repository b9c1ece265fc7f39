package fleet

import (
	"context"
	"time"
)

// StartAntiIdle (重新)安装防挂机循环：固定间隔短按跳跃键。
// 每个机器人至多一个循环，重复安装会先取消旧的，绝不叠加。
// 断开或删除时由 stopTimersLocked 统一取消。
func (c *Controller) StartAntiIdle(id string) {
	c.mu.Lock()
	h := c.handles[id]
	if h == nil {
		h = &botHandle{}
		c.handles[id] = h
	}
	if h.antiIdleCancel != nil {
		h.antiIdleCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.antiIdleCancel = cancel
	c.mu.Unlock()

	go c.antiIdleLoop(ctx, id)
}

// StopAntiIdle 单独取消防挂机循环（stop 动作不会走这里，见 dispatcher）
func (c *Controller) StopAntiIdle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[id]
	if h != nil && h.antiIdleCancel != nil {
		h.antiIdleCancel()
		h.antiIdleCancel = nil
	}
}

func (c *Controller) antiIdleLoop(ctx context.Context, id string) {
	ticker := time.NewTicker(c.antiIdleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess := c.onlineSession(id)
			if sess == nil {
				continue
			}
			if err := sess.SetControl("jump", true); err != nil {
				fleetLog.Debugf("防挂机跳跃失败: %v", err)
				continue
			}
			time.Sleep(c.antiIdleHold)
			_ = sess.SetControl("jump", false)
		}
	}
}

// antiIdleActive 测试辅助：该机器人是否有活跃的防挂机循环
func (c *Controller) antiIdleActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[id]
	return h != nil && h.antiIdleCancel != nil
}
