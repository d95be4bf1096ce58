package handler

import (
	"io"
	"net/http"

	"creditgate/internal/service"
	"creditgate/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// webhook 请求体上限
const maxWebhookBodyBytes = 64 << 10

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	gateService     *service.GateService
	paymentService  *service.PaymentService
	recoveryService *service.RecoveryService
	accountService  *service.AccountService
	logger          *zap.Logger
}

func NewHandler(
	gateService *service.GateService,
	paymentService *service.PaymentService,
	recoveryService *service.RecoveryService,
	accountService *service.AccountService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		gateService:     gateService,
		paymentService:  paymentService,
		recoveryService: recoveryService,
		accountService:  accountService,
		logger:          logger.Named("http"),
	}
}

// fail 把服务层错误转换为 {error, code} 响应；内部错误只返回概要信息
func (h *Handler) fail(c *gin.Context, err error) {
	kind := service.KindOf(err)
	if kind == service.KindInternal || kind == service.KindUpstream {
		h.logger.Error("request failed",
			zap.String("request_id", RequestIDFrom(c)),
			zap.String("path", c.FullPath()),
			zap.String("code", string(kind)),
			zap.Error(err))
	}
	response.Error(c, string(kind), service.MessageOf(err))
}

// Generate 消耗 1 个额度生成评论
// POST /generate
func (h *Handler) Generate(c *gin.Context) {
	var req service.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid JSON body")
		return
	}

	res, err := h.gateService.Generate(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"comment": res.Comment})
}

// StartPayment 创建结账会话
// GET /payment/start?identity=xxx&email=xxx
func (h *Handler) StartPayment(c *gin.Context) {
	res, err := h.paymentService.StartPayment(c.Request.Context(), &service.StartPaymentRequest{
		Identity: c.Query("identity"),
		Email:    c.Query("email"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"url": res.URL})
}

// Webhook 支付平台回调；验签通过后一律返回 200
// POST /webhook
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.ParamError(c, "unreadable webhook body")
		return
	}

	res, err := h.paymentService.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("webhook acknowledged",
		zap.String("request_id", RequestIDFrom(c)),
		zap.String("event_id", res.EventID),
		zap.String("event_type", res.EventType),
		zap.Bool("applied", res.Applied),
		zap.Bool("duplicate", res.Duplicate))
	response.Success(c, gin.H{"received": true})
}

// GetCredits 查询剩余额度
// GET /user/credits?identity=xxx
func (h *Handler) GetCredits(c *gin.Context) {
	credits, err := h.accountService.GetCredits(c.Request.Context(), c.Query("identity"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"credits": credits})
}

// Recover 通过邮箱把账户改挂到新的 identity
// POST /recover
func (h *Handler) Recover(c *gin.Context) {
	var req service.RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid JSON body")
		return
	}

	if _, err := h.recoveryService.Recover(c.Request.Context(), &req); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
