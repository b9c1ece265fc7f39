package fleet

import (
	"context"
	"math"
	"time"

	"github.com/craftbot/gofleet/internal/domain"
)

// Snapshot 按需计算舰队统计，只读当前内存/存储状态。
// avgHealth 只统计在线机器人；avgUptime 只统计有活跃会话的机器人（小时）。
func (c *Controller) Snapshot(ctx context.Context) (*domain.FleetStats, error) {
	bots, err := c.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.FleetStats{
		TotalBots:  len(bots),
		ServerPing: domain.PlaceholderPing,
	}

	healthSum := 0
	healthCount := 0
	var uptimeSum time.Duration
	uptimeCount := 0
	now := time.Now()

	for _, rec := range bots {
		if rec.Status == domain.StatusOnline {
			stats.OnlineBots++
			if rec.Health != nil {
				healthSum += *rec.Health
				healthCount++
			}
		}
		if connectedAt, ok := c.connectedAtOf(rec.ID); ok {
			uptimeSum += now.Sub(connectedAt)
			uptimeCount++
		}
	}
	stats.OfflineBots = stats.TotalBots - stats.OnlineBots

	if healthCount > 0 {
		stats.AvgHealth = round1(float64(healthSum) / float64(healthCount))
	}
	if uptimeCount > 0 {
		hours := (uptimeSum / time.Duration(uptimeCount)).Hours()
		stats.AvgUptime = round1(hours)
	}
	return stats, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
