package dashboard

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/engine"
	"tradeloop/internal/gateway/database"
	"tradeloop/internal/logger"
)

// 中文说明：
// 面板是只读窗口：所有数据来自 GlobalState 的不可变快照与审计库，
// 绝不触碰交易回路。唯一的写入口是 /control 的模式切换。

// Router 面板 API。
type Router struct {
	state *engine.GlobalState
	audit *database.AuditStore // 可为 nil
}

func NewRouter(state *engine.GlobalState, audit *database.AuditStore) *Router {
	return &Router{state: state, audit: audit}
}

// Register 注册面板路由。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/positions", r.handlePositions)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/trades", r.handleTrades)
	group.GET("/equity", r.handleEquity)
	group.GET("/logs", r.handleLogs)
	group.GET("/chart/equity", r.handleEquityChart)
	group.POST("/control", r.handleControl)
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"mode":          snap.Mode,
		"cycle_count":   snap.CycleCount,
		"last_cycle_id": snap.LastCycleID,
		"last_cycle_at": snap.LastCycleAt,
		"equity":        snap.Equity,
		"realized_pnl":  snap.RealizedPnL,
		"positions":     len(snap.Positions),
	})
}

func (r *Router) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, r.state.Snapshot().Positions)
}

func (r *Router) handleDecisions(c *gin.Context) {
	// 审计库在场时优先给持久化的全量流水，否则退回内存窗口。
	if r.audit != nil {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		records, err := r.audit.RecentCycleRecords(c.Request.Context(), limit)
		if err == nil {
			c.JSON(http.StatusOK, records)
			return
		}
		logger.Warnf("审计库查询失败，退回内存窗口: %v", err)
	}
	c.JSON(http.StatusOK, r.state.Snapshot().Decisions)
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.audit != nil {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		records, err := r.audit.RecentTrades(c.Request.Context(), c.Query("symbol"), limit)
		if err == nil {
			c.JSON(http.StatusOK, records)
			return
		}
		logger.Warnf("审计库查询失败，退回内存窗口: %v", err)
	}
	c.JSON(http.StatusOK, r.state.Snapshot().Trades)
}

func (r *Router) handleEquity(c *gin.Context) {
	c.JSON(http.StatusOK, r.state.Snapshot().EquityHistory)
}

func (r *Router) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, r.state.Snapshot().Logs)
}

type controlRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (r *Router) handleControl(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode := engine.Mode(strings.ToLower(strings.TrimSpace(req.Mode)))
	switch mode {
	case engine.ModeRunning, engine.ModePaused, engine.ModeStopped:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode 必须是 running/paused/stopped"})
		return
	}
	r.state.SetMode(mode)
	logger.Infof("执行模式切换为 %s", mode)
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}
