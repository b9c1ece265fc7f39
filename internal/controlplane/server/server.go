package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/fleet"
	"github.com/craftbot/gofleet/internal/store"
)

var srvLog = logrus.WithField("component", "server")

// Server 舰队管理的 HTTP/WebSocket 控制面。
// 只做协议适配，业务逻辑全部在 fleet.Controller 里。
type Server struct {
	ctrl  *fleet.Controller
	store store.Store
	ws    *wsHub
}

// New 创建控制面，并把 WebSocket 广播挂到事件中心上
func New(ctrl *fleet.Controller, st store.Store, hub *events.Hub) *Server {
	s := &Server{
		ctrl:  ctrl,
		store: st,
		ws:    newWSHub(ctrl, st),
	}
	s.ws.bind(hub)
	return s
}

// Close 停掉 WebSocket 广播循环并断开所有客户端
func (s *Server) Close() {
	s.ws.close()
}

// Router 组装路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")

	bots := api.Group("/bots")
	bots.GET("", s.handleBotsList)
	bots.POST("", s.handleBotCreate)
	bots.POST("/spawn-multiple", s.handleSpawnMultiple)
	bots.POST("/connect-all", s.handleConnectAll)
	bots.POST("/disconnect-all", s.handleDisconnectAll)
	botID := bots.Group("/:botID")
	botID.GET("", s.handleBotGet)
	botID.DELETE("", s.handleBotDelete)
	botID.POST("/connect", s.handleBotConnect)
	botID.POST("/disconnect", s.handleBotDisconnect)
	botID.PATCH("/rename", s.handleBotRename)

	api.POST("/action", s.handleAction)
	api.GET("/server-config", s.handleConfigGet)
	api.POST("/server-config", s.handleConfigUpdate)
	api.GET("/server-stats", s.handleStats)
	api.GET("/logs", s.handleLogsList)
	api.DELETE("/logs", s.handleLogsClear)
	api.GET("/chat", s.handleChatList)
	api.GET("/ai-config", s.handleAiConfigGet)
	api.POST("/ai-config", s.handleAiConfigUpdate)

	return r
}
