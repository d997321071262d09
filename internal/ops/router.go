// Package ops 提供 worker 的运维端点（健康检查 / 指标）
package ops

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker 依赖健康检查接口
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewRouter 创建运维路由。探活不查依赖，就绪逐个查。
func NewRouter(env string, checks map[string]HealthChecker) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	engine.GET("/readyz", func(c *gin.Context) {
		for name, check := range checks {
			if err := check.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "down",
					"component": name,
					"error":     err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}
