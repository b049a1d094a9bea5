package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerSecond int           // 令牌补充速率
	RequestsPerMinute int           // 分钟级硬上限，0 表示不限
	BurstSize         int           // 突发容量
	CleanupInterval   time.Duration // 空闲状态清理间隔
}

// DefaultRateLimiterConfig 默认配置
// 自动化接口多为后台操作，给到适中的突发容量即可。
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 10,
		RequestsPerMinute: 300,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
	}
}

// bucketState 单个租户的令牌桶状态
type bucketState struct {
	tokens      float64
	lastUpdate  time.Time
	requests    int64
	minuteStart time.Time
}

// RateLimiter 进程内令牌桶限流器，按 key 独立计数
type RateLimiter struct {
	config  *RateLimiterConfig
	buckets map[string]*bucketState
	mu      sync.Mutex
}

// NewRateLimiter 创建限流器并启动空闲状态回收
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}

	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucketState),
	}
	go rl.cleanupLoop()

	return rl
}

// Allow 检查 key 是否允许通过
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	state, exists := rl.buckets[key]
	if !exists {
		rl.buckets[key] = &bucketState{
			tokens:      float64(rl.config.BurstSize - 1),
			lastUpdate:  now,
			requests:    1,
			minuteStart: now,
		}
		return true
	}

	// 按流逝时间补充令牌
	elapsed := now.Sub(state.lastUpdate).Seconds()
	state.tokens += elapsed * float64(rl.config.RequestsPerSecond)
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastUpdate = now

	if now.Sub(state.minuteStart) > time.Minute {
		state.requests = 0
		state.minuteStart = now
	}
	if rl.config.RequestsPerMinute > 0 && state.requests >= int64(rl.config.RequestsPerMinute) {
		return false
	}

	if state.tokens < 1 {
		return false
	}
	state.tokens--
	state.requests++
	return true
}

// cleanupLoop 定期回收长时间无请求的租户状态
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, state := range rl.buckets {
			if now.Sub(state.lastUpdate) > 10*time.Minute {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitByTenant 按租户限流中间件
// 在 TenantHeaderMiddleware 之后使用；缺少租户标识时退化为按 IP 限流。
func RateLimitByTenant(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetString("tenant_id")
		if tenantID == "" {
			tenantID = c.ClientIP()
		}

		if !limiter.Allow("tenant:" + tenantID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"code":        "tenant_rate_limit_exceeded",
				"message":     "租户请求配额已用尽，请稍后重试",
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}
