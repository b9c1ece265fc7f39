package ai

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/store"
)

// fakeParser 可编程的解析器
type fakeParser struct {
	result *ParseResult
	err    error
	ack    string
	calls  int
}

func (f *fakeParser) ParseCommand(_ context.Context, _, _ string) (*ParseResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeParser) GenerateAck(_ context.Context, _ domain.ActionKind, _ string) (string, error) {
	return f.ack, nil
}

// fakeExecutor 记录下发的动作
type fakeExecutor struct {
	mu   sync.Mutex
	reqs []*domain.ActionRequest
}

func (f *fakeExecutor) ExecuteAction(_ context.Context, req *domain.ActionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeExecutor) requests() []*domain.ActionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.ActionRequest(nil), f.reqs...)
}

// staticBots 固定的机器人列表
type staticBots struct {
	bots []*domain.BotRecord
}

func (s *staticBots) List(_ context.Context) ([]*domain.BotRecord, error) {
	return s.bots, nil
}

func newTestPipeline(parser Parser, bots []*domain.BotRecord) (*Pipeline, *fakeExecutor, store.Store) {
	st := store.NewMemStore(nil)
	exec := &fakeExecutor{}
	p := NewPipeline(st, parser, exec, &staticBots{bots: bots})
	return p, exec, st
}

func onlineBot(id, name string) *domain.BotRecord {
	return &domain.BotRecord{ID: id, Name: name, Status: domain.StatusOnline}
}

func TestStatsArithmetic(t *testing.T) {
	p, _, st := newTestPipeline(&fakeParser{}, nil)
	ctx := context.Background()

	// 初始 (total=0, avg=0, rate=100)
	cfg, _ := st.GetAiConfig(ctx)
	if cfg.TotalRequests != 0 || cfg.AvgResponseTime != 0 || cfg.SuccessRate != 100 {
		t.Fatalf("unexpected initial stats: %+v", cfg)
	}

	// 成功 @120ms -> (1, 120, 100)
	p.recordStats(ctx, true, 120)
	cfg, _ = st.GetAiConfig(ctx)
	if cfg.TotalRequests != 1 || cfg.AvgResponseTime != 120 || cfg.SuccessRate != 100 {
		t.Fatalf("after success: got (%d, %d, %d), want (1, 120, 100)",
			cfg.TotalRequests, cfg.AvgResponseTime, cfg.SuccessRate)
	}

	// 失败 @80ms -> (2, 100, 50)
	p.recordStats(ctx, false, 80)
	cfg, _ = st.GetAiConfig(ctx)
	if cfg.TotalRequests != 2 || cfg.AvgResponseTime != 100 || cfg.SuccessRate != 50 {
		t.Fatalf("after failure: got (%d, %d, %d), want (2, 100, 50)",
			cfg.TotalRequests, cfg.AvgResponseTime, cfg.SuccessRate)
	}
}

func TestDirectedActionDispatchedWithAck(t *testing.T) {
	parser := &fakeParser{
		result: &ParseResult{Action: &domain.ActionRequest{Kind: domain.ActionFollow, Target: "Steve"}},
		ack:    "Following Steve!",
	}
	p, exec, st := newTestPipeline(parser, []*domain.BotRecord{onlineBot("b1", "Bot1")})
	ctx := context.Background()

	p.HandleChat(ctx, &domain.ChatMessage{Author: "Steve", Content: "follow me"})

	reqs := exec.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected action + ack chat, got %d requests", len(reqs))
	}
	if reqs[0].Kind != domain.ActionFollow || reqs[0].Target != "Steve" {
		t.Fatalf("unexpected action: %+v", reqs[0])
	}
	if reqs[1].Kind != domain.ActionChat || reqs[1].Payload != "Following Steve!" {
		t.Fatalf("unexpected ack: %+v", reqs[1])
	}
	if len(reqs[1].BotIDs) != 1 || reqs[1].BotIDs[0] != "b1" {
		t.Fatalf("ack should route through the online bot, got %v", reqs[1].BotIDs)
	}

	cfg, _ := st.GetAiConfig(ctx)
	if cfg.CommandsParsed != 1 {
		t.Fatalf("expected commandsParsed=1, got %d", cfg.CommandsParsed)
	}
	if cfg.TotalRequests != 1 || cfg.SuccessRate != 100 {
		t.Fatalf("unexpected stats: %+v", cfg)
	}
}

func TestAckSuppressedWhenAutoResponseOff(t *testing.T) {
	parser := &fakeParser{
		result: &ParseResult{Action: &domain.ActionRequest{Kind: domain.ActionStop}},
		ack:    "Stopping all actions.",
	}
	p, exec, st := newTestPipeline(parser, []*domain.BotRecord{onlineBot("b1", "Bot1")})
	ctx := context.Background()

	if _, err := st.UpdateAiConfig(ctx, domain.AiConfigUpdate{AutoResponse: domain.BoolPtr(false)}); err != nil {
		t.Fatalf("UpdateAiConfig failed: %v", err)
	}

	p.HandleChat(ctx, &domain.ChatMessage{Author: "Steve", Content: "stop"})

	reqs := exec.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected only the action, got %d requests", len(reqs))
	}
	if reqs[0].Kind != domain.ActionStop {
		t.Fatalf("unexpected request: %+v", reqs[0])
	}
}

func TestConversationalReplyRoutedThroughFirstOnlineBot(t *testing.T) {
	parser := &fakeParser{result: &ParseResult{Reply: "Hi there!"}}
	bots := []*domain.BotRecord{
		{ID: "off", Name: "Offline", Status: domain.StatusOffline},
		onlineBot("on1", "First"),
		onlineBot("on2", "Second"),
	}
	p, exec, _ := newTestPipeline(parser, bots)

	p.HandleChat(context.Background(), &domain.ChatMessage{Author: "Steve", Content: "hello"})

	reqs := exec.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one chat request, got %d", len(reqs))
	}
	if reqs[0].Kind != domain.ActionChat || reqs[0].Payload != "Hi there!" {
		t.Fatalf("unexpected request: %+v", reqs[0])
	}
	// 跳过离线机器人，用找到的第一个在线机器人
	if len(reqs[0].BotIDs) != 1 || reqs[0].BotIDs[0] != "on1" {
		t.Fatalf("expected routing through first online bot, got %v", reqs[0].BotIDs)
	}
}

func TestReplyDroppedWhenNoBotOnline(t *testing.T) {
	parser := &fakeParser{result: &ParseResult{Reply: "nobody home"}}
	p, exec, _ := newTestPipeline(parser, []*domain.BotRecord{
		{ID: "off", Name: "Offline", Status: domain.StatusOffline},
	})

	p.HandleChat(context.Background(), &domain.ChatMessage{Author: "Steve", Content: "hello"})

	if len(exec.requests()) != 0 {
		t.Fatal("reply must be dropped when no bot is online")
	}
}

func TestNotEligibleSkipsStats(t *testing.T) {
	parser := &fakeParser{err: ErrNotEligible}
	p, exec, st := newTestPipeline(parser, []*domain.BotRecord{onlineBot("b1", "Bot1")})
	ctx := context.Background()

	p.HandleChat(ctx, &domain.ChatMessage{Author: "Rando", Content: "follow me"})

	cfg, _ := st.GetAiConfig(ctx)
	if cfg.TotalRequests != 0 {
		t.Fatalf("gated message must not count as a request, got total=%d", cfg.TotalRequests)
	}
	if len(exec.requests()) != 0 {
		t.Fatal("gated message must not dispatch anything")
	}
}

func TestParserErrorCountsAsFailureWithStatusFallback(t *testing.T) {
	parser := &fakeParser{err: errors.New("api down")}
	p, exec, st := newTestPipeline(parser, []*domain.BotRecord{onlineBot("b1", "Bot1")})
	ctx := context.Background()

	// 消息不含 status：只计一次失败，无回复
	p.HandleChat(ctx, &domain.ChatMessage{Author: "Steve", Content: "follow me"})
	if len(exec.requests()) != 0 {
		t.Fatal("parser failure must not dispatch actions")
	}
	cfg, _ := st.GetAiConfig(ctx)
	if cfg.TotalRequests != 1 || cfg.SuccessRate != 0 {
		t.Fatalf("expected (1, rate 0) after failure, got %+v", cfg)
	}

	// 消息含 status：兜底回复一句固定话术
	p.HandleChat(ctx, &domain.ChatMessage{Author: "Steve", Content: "what's the status?"})
	reqs := exec.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected fallback reply, got %d requests", len(reqs))
	}
	if reqs[0].Kind != domain.ActionChat || reqs[0].Payload != statusFallbackReply {
		t.Fatalf("unexpected fallback: %+v", reqs[0])
	}
}

func TestBotMessagesIgnored(t *testing.T) {
	parser := &fakeParser{result: &ParseResult{Reply: "should not happen"}}
	p, exec, _ := newTestPipeline(parser, []*domain.BotRecord{onlineBot("b1", "Bot1")})

	p.HandleChat(context.Background(), &domain.ChatMessage{Author: "Bot1", Content: "hi", IsBot: true})

	if parser.calls != 0 {
		t.Fatal("bot-authored messages must not reach the parser")
	}
	if len(exec.requests()) != 0 {
		t.Fatal("bot-authored messages must not dispatch anything")
	}
}

func TestNoMatchHasNoEffect(t *testing.T) {
	parser := &fakeParser{} // 返回 (nil, nil)
	p, exec, st := newTestPipeline(parser, []*domain.BotRecord{onlineBot("b1", "Bot1")})
	ctx := context.Background()

	p.HandleChat(ctx, &domain.ChatMessage{Author: "Steve", Content: "nice weather"})

	if len(exec.requests()) != 0 {
		t.Fatal("no-match must not dispatch anything")
	}
	// 但请求本身计入统计
	cfg, _ := st.GetAiConfig(ctx)
	if cfg.TotalRequests != 1 || cfg.SuccessRate != 100 {
		t.Fatalf("no-match still counts as a successful request, got %+v", cfg)
	}
}
