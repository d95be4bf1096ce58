package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由；limiter 为 nil 时 /generate 不限流
func SetupRouter(h *Handler, limiter RateLimiter, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger.Named("access")))
	r.Use(CORSMiddleware())

	generate := []gin.HandlerFunc{h.Generate}
	if limiter != nil {
		generate = append([]gin.HandlerFunc{RateLimitMiddleware(limiter, logger)}, generate...)
	}
	r.POST("/generate", generate...)

	r.GET("/payment/start", h.StartPayment)
	r.POST("/webhook", h.Webhook)
	r.GET("/user/credits", h.GetCredits)
	r.POST("/recover", h.Recover)

	r.GET("/health", h.Health)

	return r
}
