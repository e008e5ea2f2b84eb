package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/engine"
)

var log = logrus.WithField("module", "controlplane")

// SnapshotSource 引擎侧的只读视图
type SnapshotSource interface {
	Snapshot() *engine.Snapshot
	Halted() bool
	SetLiquidation(mode engine.LiquidationMode)
}

// Server 控制面：快照只读 API + 清仓开关。
//
// 只读 engine 的不可变快照，绝不触碰交易循环内部状态；
// 唯一的写入口是清仓模式切换（下个周期生效）。
type Server struct {
	source SnapshotSource
	http   *http.Server
}

func New(addr string, source SnapshotSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{source: source}
	r.GET("/healthz", s.handleHealthz)
	r.GET("/status", s.handleStatus)
	r.GET("/positions", s.handlePositions)
	r.GET("/ev", s.handleEv)
	r.POST("/liquidate", s.handleLiquidate)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// StartAsync 非阻塞启动，ctx 取消时优雅关闭。
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		log.Infof("🌐 [ControlPlane] 状态服务启动: %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("❌ [ControlPlane] 服务异常退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()
}

func (s *Server) handleHealthz(c *gin.Context) {
	snap := s.source.Snapshot()
	status := http.StatusOK
	body := gin.H{"ok": true, "halted": s.source.Halted()}
	if snap == nil {
		body["ok"] = false
		body["reason"] = "no cycle completed yet"
		status = http.StatusServiceUnavailable
	} else {
		body["last_cycle_at"] = snap.At
	}
	c.JSON(status, body)
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handlePositions(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"positions":    snap.Positions,
		"closed_count": snap.ClosedCount,
		"realized_usd": snap.RealizedUsd,
	})
}

func (s *Server) handleEv(c *gin.Context) {
	snap := s.source.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot"})
		return
	}
	c.JSON(http.StatusOK, snap.Ev)
}

type liquidateRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) handleLiquidate(c *gin.Context) {
	var req liquidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode := engine.LiquidationMode(req.Mode)
	switch mode {
	case engine.LiquidateNone, engine.LiquidateAll, engine.LiquidateLosing:
		s.source.SetLiquidation(mode)
		c.JSON(http.StatusOK, gin.H{"mode": mode})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be NONE, ALL or LOSING_ONLY"})
	}
}
