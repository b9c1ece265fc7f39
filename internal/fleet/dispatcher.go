package fleet

import (
	"context"
	"fmt"
	"strings"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/events"
)

// followDistance 跟随目标时保持的距离（格）
const followDistance = 3

// ExecuteAction 对一组机器人执行动作。
// BotIDs 为空时作用于全部机器人。各目标独立执行：
// 单个机器人失败只记错误日志，绝不中断其余机器人，也不向调用方抛错。
// 只有请求本身不合法时才返回错误（此时不触碰任何机器人）。
func (c *Controller) ExecuteAction(ctx context.Context, req *domain.ActionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	targets := req.BotIDs
	if len(targets) == 0 {
		bots, err := c.registry.List(ctx)
		if err != nil {
			return err
		}
		for _, rec := range bots {
			targets = append(targets, rec.ID)
		}
	}

	for _, id := range targets {
		rec, err := c.registry.Get(ctx, id)
		if err != nil {
			c.logf(ctx, domain.LogError, &id, "动作 %s 失败: %v", req.Kind, err)
			continue
		}
		if err := c.executeOne(ctx, rec.ID, rec.Name, req); err != nil {
			c.logf(ctx, domain.LogError, &id, "%s: 动作 %s 失败: %v", rec.Name, req.Kind, err)
			continue
		}
	}
	return nil
}

// executeOne 对单个机器人执行动作
func (c *Controller) executeOne(ctx context.Context, id, name string, req *domain.ActionRequest) error {
	sess := c.onlineSession(id)
	if sess == nil {
		// 未连接不算失败，跳过即可
		c.logf(ctx, domain.LogWarning, &id, "%s 未连接，跳过动作 %s", name, req.Kind)
		return nil
	}

	switch req.Kind {
	case domain.ActionFollow:
		target := req.Target
		if target == "" {
			target = c.Config().FollowTarget
		}
		if target == "" {
			return fmt.Errorf("no follow target configured")
		}
		if _, ok := sess.FindPlayer(target); !ok {
			return fmt.Errorf("player %q not visible", target)
		}
		if err := sess.Pursue(target, followDistance); err != nil {
			return err
		}
		c.updateBot(ctx, id, domain.BotUpdate{CurrentAction: domain.StringPtr("Following " + target)})

	case domain.ActionAttack:
		if _, ok := sess.FindPlayer(req.Target); !ok {
			return fmt.Errorf("player %q not visible", req.Target)
		}
		if err := sess.Attack(req.Target); err != nil {
			return err
		}
		c.updateBot(ctx, id, domain.BotUpdate{CurrentAction: domain.StringPtr("Attacking " + req.Target)})

	case domain.ActionTeleport:
		target := req.Target
		if target == "" {
			target = c.Config().FollowTarget
		}
		if target == "" {
			return fmt.Errorf("no teleport target configured")
		}
		// 传送由服务器执行，本地不做可见性检查
		if err := sess.Chat("/tp " + target); err != nil {
			return err
		}
		c.updateBot(ctx, id, domain.BotUpdate{CurrentAction: domain.StringPtr("Teleporting to " + target)})

	case domain.ActionStop:
		// 注意：stop 不取消正在运行的防挂机循环（沿用既有行为）
		if err := sess.ClearPursue(); err != nil {
			return err
		}
		if err := sess.ClearControls(); err != nil {
			return err
		}
		c.updateBot(ctx, id, domain.BotUpdate{CurrentAction: domain.StringPtr("idle")})

	case domain.ActionAntiIdle:
		c.StartAntiIdle(id)
		c.updateBot(ctx, id, domain.BotUpdate{CurrentAction: domain.StringPtr("Anti-AFK")})

	case domain.ActionCommand:
		payload := req.Payload
		if !strings.HasPrefix(payload, "/") {
			payload = "/" + payload
		}
		if err := sess.Chat(payload); err != nil {
			return err
		}

	case domain.ActionChat:
		if err := sess.Chat(req.Payload); err != nil {
			return err
		}
		// 机器人发出的聊天同样落库并广播
		msg, err := c.store.AddChat(ctx, &domain.ChatMessage{
			Author:  name,
			Content: req.Payload,
			IsBot:   true,
			BotID:   &id,
		})
		if err != nil {
			fleetLog.Warnf("保存机器人聊天失败: %v", err)
		} else {
			c.hub.ChatMessage.Emit(ctx, &events.ChatMessageEvent{Message: msg, BotID: id})
		}

	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, req.Kind)
	}

	c.logf(ctx, domain.LogSuccess, &id, "%s: %s executed", name, req.Kind)
	return nil
}
