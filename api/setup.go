package api

import (
	"time"

	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/metrics"
	middlewarepkg "backend/internal/middleware"
	"backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 设置 Gin 路由，并返回 Worker 服务器与定时触发器轮询器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server, *worker.SchedulePoller) {
	router := gin.New()

	// 统一归一化 Redis 配置，优先使用 cfg.Redis，再回退到环境变量
	cfg.Redis = normalizeRedisConfig(cfg.Redis)

	// 组装应用依赖
	app := BuildApp(db, cfg, logger.Get())

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middlewarepkg.RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 系统端点
	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 业务路由
	RegisterRoutes(router, app)

	// Worker 与定时触发器轮询器
	workerServer := worker.NewServer(cfg.Redis, cfg.Automation.WorkerConcurrency, app.Runner, logger.Get())

	pollInterval := time.Duration(cfg.Automation.SchedulePollSeconds) * time.Second
	poller := worker.NewSchedulePoller(app.Dispatcher, pollInterval, logger.Get())

	return router, workerServer, poller
}
