package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/fleet"
)

// maxSpawnBatch 一次批量创建的上限，防手滑
const maxSpawnBatch = 50

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

// writeFleetError 把领域错误翻译成 HTTP 状态码
func writeFleetError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, fleet.ErrNotFound):
		writeError(c, http.StatusNotFound, "bot not found")
	case errors.Is(err, fleet.ErrNameConflict):
		writeError(c, http.StatusConflict, "bot name already taken")
	case errors.Is(err, domain.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func limitParam(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) handleBotsList(c *gin.Context) {
	bots, err := s.ctrl.Registry().List(c.Request.Context())
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, bots)
}

type createBotRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleBotCreate(c *gin.Context) {
	var req createBotRequest
	// body 可以为空（全部走默认值）
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}

	// 创建即连接；名字为空时自动生成
	rec, err := s.ctrl.Spawn(c.Request.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type spawnMultipleRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleSpawnMultiple(c *gin.Context) {
	var req spawnMultipleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Count < 1 || req.Count > maxSpawnBatch {
		writeError(c, http.StatusBadRequest, "count must be between 1 and 50")
		return
	}

	bots := s.ctrl.SpawnMany(c.Request.Context(), req.Count)
	c.JSON(http.StatusCreated, bots)
}

func (s *Server) handleBotGet(c *gin.Context) {
	rec, err := s.ctrl.Registry().Get(c.Request.Context(), c.Param("botID"))
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleBotDelete(c *gin.Context) {
	if err := s.ctrl.Delete(c.Request.Context(), c.Param("botID")); err != nil {
		writeFleetError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBotConnect(c *gin.Context) {
	if err := s.ctrl.Connect(c.Request.Context(), c.Param("botID")); err != nil {
		writeFleetError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleBotDisconnect(c *gin.Context) {
	if err := s.ctrl.Disconnect(c.Request.Context(), c.Param("botID")); err != nil {
		writeFleetError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type renameBotRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleBotRename(c *gin.Context) {
	var req renameBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(c, http.StatusBadRequest, "name is required")
		return
	}

	rec, err := s.ctrl.Registry().Rename(c.Request.Context(), c.Param("botID"), req.Name)
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleConnectAll(c *gin.Context) {
	s.ctrl.ConnectAll(c.Request.Context())
	c.Status(http.StatusAccepted)
}

func (s *Server) handleDisconnectAll(c *gin.Context) {
	s.ctrl.DisconnectAll(c.Request.Context())
	c.Status(http.StatusOK)
}

func (s *Server) handleAction(c *gin.Context) {
	var req domain.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.ctrl.ExecuteAction(c.Request.Context(), &req); err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dispatched"})
}

func (s *Server) handleConfigGet(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Config())
}

func (s *Server) handleConfigUpdate(c *gin.Context) {
	// 整体替换：以当前配置为底，覆盖请求里给出的字段
	cfg := s.ctrl.Config()
	if err := c.ShouldBindJSON(cfg); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if cfg.Host == "" || cfg.Port < 1 || cfg.Port > 65535 {
		writeError(c, http.StatusBadRequest, "host and a valid port are required")
		return
	}
	if cfg.ReconnectDelay < 0 {
		writeError(c, http.StatusBadRequest, "reconnectDelay must not be negative")
		return
	}

	if err := s.ctrl.UpdateConfig(c.Request.Context(), cfg); err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Config())
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.ctrl.Snapshot(c.Request.Context())
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleLogsList(c *gin.Context) {
	logs, err := s.store.ListLogs(c.Request.Context(), limitParam(c))
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) handleLogsClear(c *gin.Context) {
	if err := s.store.ClearLogs(c.Request.Context()); err != nil {
		writeFleetError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChatList(c *gin.Context) {
	msgs, err := s.store.ListChat(c.Request.Context(), limitParam(c))
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleAiConfigGet(c *gin.Context) {
	cfg, err := s.store.GetAiConfig(c.Request.Context())
	if err != nil {
		writeFleetError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// aiConfigRequest 只开放设置类字段，统计字段由管道维护
type aiConfigRequest struct {
	Model        *string `json:"model"`
	ListenUser   *string `json:"listenUser"`
	Enabled      *bool   `json:"enabled"`
	AutoResponse *bool   `json:"autoResponse"`
}

func (s *Server) handleAiConfigUpdate(c *gin.Context) {
	var req aiConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Model != nil && strings.TrimSpace(*req.Model) == "" {
		writeError(c, http.StatusBadRequest, "model must not be empty")
		return
	}

	cfg, err := s.store.UpdateAiConfig(c.Request.Context(), domain.AiConfigUpdate{
		Model:        req.Model,
		ListenUser:   req.ListenUser,
		Enabled:      req.Enabled,
		AutoResponse: req.AutoResponse,
	})
	if err != nil {
		writeFleetError(c, err)
		return
	}
	s.ws.broadcast("ai-config-update", cfg)
	c.JSON(http.StatusOK, cfg)
}
