// Package http 风控操作员 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/riskguard/internal/risk/application"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"github.com/wyfcoding/riskguard/pkg/response"
)

// RiskHandler 负责处理与风险管理相关的 HTTP 请求
type RiskHandler struct {
	manager *application.RiskManager
}

// NewRiskHandler 创建 HTTP 处理器
func NewRiskHandler(manager *application.RiskManager) *RiskHandler {
	return &RiskHandler{manager: manager}
}

// RegisterRoutes 注册路由
func (h *RiskHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/risk")
	{
		api.POST("/assess", h.AssessSignal)
		api.POST("/can-execute", h.CanExecute)
		api.POST("/position-size", h.PositionSize)
		api.GET("/level", h.GetRiskLevel)
		api.GET("/metrics", h.GetRiskMetrics)
		api.GET("/limits", h.GetLimits)
		api.PUT("/limits", h.ReloadLimits)
		api.GET("/violations", h.RecentViolations)

		api.GET("/alerts", h.ActiveAlerts)
		api.GET("/alerts/:id", h.GetAlert)
		api.POST("/alerts/:id/ack", h.AcknowledgeAlert)
		api.POST("/alerts/:id/resolve", h.ResolveAlert)

		api.GET("/breaker", h.BreakerStatus)
		api.GET("/breaker/events", h.BreakerEvents)
		api.POST("/breaker/halt", h.Halt)
		api.POST("/breaker/resume", h.Resume)
		api.POST("/breaker/clear-reduction", h.ClearReduction)
	}
}

// OperatorRequest 人工操作请求
type OperatorRequest struct {
	By     string `json:"by" binding:"required"`
	Reason string `json:"reason"`
}

// AssessSignal 评估交易信号风险
func (h *RiskHandler) AssessSignal(c *gin.Context) {
	var signal domain.TradingSignal
	if err := c.ShouldBindJSON(&signal); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid signal", err.Error())
		return
	}
	response.Success(c, h.manager.AssessTradingSignalRisk(c.Request.Context(), signal))
}

// CanExecute 交易准入决策
func (h *RiskHandler) CanExecute(c *gin.Context) {
	var signal domain.TradingSignal
	if err := c.ShouldBindJSON(&signal); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid signal", err.Error())
		return
	}
	response.Success(c, h.manager.EvaluateTrade(c.Request.Context(), signal, nil))
}

// PositionSize 计算可执行仓位
func (h *RiskHandler) PositionSize(c *gin.Context) {
	var signal domain.TradingSignal
	if err := c.ShouldBindJSON(&signal); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid signal", err.Error())
		return
	}
	response.Success(c, h.manager.CalculatePositionSize(c.Request.Context(), signal, nil))
}

// GetRiskLevel 当前风险等级
func (h *RiskHandler) GetRiskLevel(c *gin.Context) {
	response.Success(c, gin.H{"level": h.manager.GetCurrentRiskLevel()})
}

// GetRiskMetrics 最新风险快照
func (h *RiskHandler) GetRiskMetrics(c *gin.Context) {
	m, err := h.manager.LatestMetrics()
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, m)
}

// GetLimits 当前限额
func (h *RiskHandler) GetLimits(c *gin.Context) {
	response.Success(c, h.manager.Limits())
}

// ReloadLimits 整体替换限额
func (h *RiskHandler) ReloadLimits(c *gin.Context) {
	var limits domain.RiskLimits
	if err := c.ShouldBindJSON(&limits); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limits", err.Error())
		return
	}
	if err := h.manager.ReloadLimits(c.Request.Context(), limits); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, h.manager.Limits())
}

// RecentViolations 最近违规
func (h *RiskHandler) RecentViolations(c *gin.Context) {
	n, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := h.manager.RecentViolations(c.Request.Context(), n)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, out)
}

// ActiveAlerts 未解决告警
func (h *RiskHandler) ActiveAlerts(c *gin.Context) {
	response.Success(c, h.manager.ActiveAlerts())
}

// GetAlert 告警详情
func (h *RiskHandler) GetAlert(c *gin.Context) {
	a, err := h.manager.GetAlert(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, a)
}

// AcknowledgeAlert 确认告警
func (h *RiskHandler) AcknowledgeAlert(c *gin.Context) {
	req, ok := bindOperator(c)
	if !ok {
		return
	}
	a, err := h.manager.AcknowledgeAlert(c.Request.Context(), c.Param("id"), req.By)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, a)
}

// ResolveAlert 解决告警
func (h *RiskHandler) ResolveAlert(c *gin.Context) {
	req, ok := bindOperator(c)
	if !ok {
		return
	}
	a, err := h.manager.ResolveAlert(c.Request.Context(), c.Param("id"), req.By)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, a)
}

// BreakerStatus 熔断器状态
func (h *RiskHandler) BreakerStatus(c *gin.Context) {
	response.Success(c, h.manager.BreakerStatus())
}

// BreakerEvents 熔断审计记录
func (h *RiskHandler) BreakerEvents(c *gin.Context) {
	n, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := h.manager.BreakerEvents(c.Request.Context(), n)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, out)
}

// Halt 人工熔断
func (h *RiskHandler) Halt(c *gin.Context) {
	req, ok := bindOperator(c)
	if !ok {
		return
	}
	if req.Reason == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "reason is required", "")
		return
	}
	if err := h.manager.HaltTrading(c.Request.Context(), req.Reason, req.By); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, h.manager.BreakerStatus())
}

// Resume 人工恢复交易
func (h *RiskHandler) Resume(c *gin.Context) {
	req, ok := bindOperator(c)
	if !ok {
		return
	}
	if err := h.manager.ResumeTrading(c.Request.Context(), req.By); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, h.manager.BreakerStatus())
}

// ClearReduction 解除减仓模式
func (h *RiskHandler) ClearReduction(c *gin.Context) {
	req, ok := bindOperator(c)
	if !ok {
		return
	}
	if err := h.manager.ClearPositionReduction(c.Request.Context(), req.By); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, h.manager.BreakerStatus())
}

func bindOperator(c *gin.Context) (OperatorRequest, bool) {
	var req OperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "by is required", err.Error())
		return req, false
	}
	return req, true
}

func limitParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || n < 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return 0, false
	}
	return n, true
}

// fail 按错误类型映射状态码
func (h *RiskHandler) fail(c *gin.Context, err error) {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrAlertNotFound), errors.Is(err, domain.ErrNoSnapshot):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, domain.ErrMissingAuthorizer), errors.As(err, &cfgErr):
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, domain.ErrInvalidAlertTransition):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
	default:
		logger.Error(c.Request.Context(), "Risk API request failed", "path", c.FullPath(), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
	}
}
