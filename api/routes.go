package api

import (
	automationHandlers "backend/api/handlers/automations"
	billingHandlers "backend/api/handlers/billing"
	middlewarepkg "backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册业务路由
// 所有 /api 路由要求 X-Tenant-ID 请求头，行级租户隔离在服务层保证。
func RegisterRoutes(router *gin.Engine, app *App) {
	automationHandler := automationHandlers.NewAutomationHandler(app.Service, app.Registry, app.Gate)
	billingHandler := billingHandlers.NewHandler(app.BillingService)

	apiGroup := router.Group("/api")
	apiGroup.Use(middlewarepkg.TenantHeaderMiddleware())

	// 租户级限流，避免单租户打满自动化接口
	rateLimiter := middlewarepkg.NewRateLimiter(middlewarepkg.DefaultRateLimiterConfig())
	apiGroup.Use(middlewarepkg.RateLimitByTenant(rateLimiter))

	automations := apiGroup.Group("/automations")
	{
		automations.GET("", automationHandler.ListAutomations)
		automations.POST("", automationHandler.CreateAutomation)
		automations.GET("/actions", automationHandler.ListActionKinds)

		automations.GET("/engine", automationHandler.EngineStatus)
		automations.POST("/engine/pause", automationHandler.PauseEngine)
		automations.POST("/engine/resume", automationHandler.ResumeEngine)

		automations.GET("/runs/:runId/outcomes", automationHandler.GetRunOutcomes)

		automations.GET("/:id", automationHandler.GetAutomation)
		automations.PUT("/:id", automationHandler.UpdateAutomation)
		automations.DELETE("/:id", automationHandler.DeleteAutomation)
		automations.POST("/:id/enable", automationHandler.EnableAutomation)
		automations.POST("/:id/disable", automationHandler.DisableAutomation)
		automations.POST("/:id/trigger", automationHandler.TriggerAutomation)
		automations.GET("/:id/runs", automationHandler.ListRuns)
	}

	billingGroup := apiGroup.Group("/billing")
	{
		billingGroup.POST("/clients", billingHandler.CreateClient)

		billingGroup.GET("/invoices", billingHandler.ListInvoices)
		billingGroup.POST("/invoices", billingHandler.CreateInvoice)
		billingGroup.POST("/invoices/sweep-overdue", billingHandler.SweepOverdue)
		billingGroup.GET("/invoices/:id", billingHandler.GetInvoice)
		billingGroup.POST("/invoices/:id/send", billingHandler.SendInvoice)

		billingGroup.POST("/payments", billingHandler.RecordPayment)

		billingGroup.POST("/quotes", billingHandler.CreateQuote)
		billingGroup.POST("/quotes/:id/accept", billingHandler.AcceptQuote)
	}
}
