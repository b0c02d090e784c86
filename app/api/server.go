package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer creates the HTTP router. Admin routes are mounted only when
// apiAccessKey is set; gatherer may be nil to skip /metrics.
func NewServer(handler *Handler, apiAccessKey string, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Auth-Token")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey, gatherer)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string, gatherer prometheus.Gatherer) {
	r.POST("/webhook/callback", handler.WebhookCallback)

	r.GET("/health", handler.HealthCheck)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.GET("/feeds", handler.ListFeeds)
			api.POST("/feeds", handler.CreateFeed)
			api.POST("/feeds/validate", handler.ValidateFeed)
			api.GET("/feeds/:id", handler.GetFeed)
			api.PUT("/feeds/:id", handler.UpdateFeed)
			api.DELETE("/feeds/:id", handler.DeleteFeed)
			api.POST("/feeds/:id/activate", handler.ActivateFeed)
			api.POST("/feeds/:id/fetch", handler.FetchFeed)

			api.GET("/webhooks", handler.ListWebhooks)
			api.POST("/webhooks", handler.CreateWebhook)
			api.GET("/webhooks/:id", handler.GetWebhook)
			api.DELETE("/webhooks/:id", handler.DeleteWebhook)
			api.POST("/webhooks/:id/test", handler.TestWebhook)
			api.GET("/webhooks/:id/stats", handler.WebhookStats)

			api.GET("/rules", handler.ListRules)
			api.POST("/rules", handler.CreateRule)
			api.POST("/rules/test", handler.TestRule)
			api.PUT("/rules/:id", handler.UpdateRule)
			api.DELETE("/rules/:id", handler.DeleteRule)
			api.POST("/rules/:id/toggle", handler.ToggleRule)

			api.GET("/executions", handler.ListExecutions)
			api.GET("/logs", handler.ListLogs)
			api.POST("/fetch", handler.FetchDue)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Info("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"callback": "/webhook/callback (POST, requires X-Auth-Token header)",
			"health":   "/health",
			"metrics":  "/metrics",
		}

		if apiAccessKey != "" {
			endpoints["feeds"] = "/api/feeds (requires X-API-Key header)"
			endpoints["webhooks"] = "/api/webhooks (requires X-API-Key header)"
			endpoints["rules"] = "/api/rules (requires X-API-Key header)"
			endpoints["executions"] = "/api/executions (requires X-API-Key header)"
			endpoints["logs"] = "/api/logs (requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "RSS Planner",
			"version":     handler.version,
			"description": "RSS/Atom ingestion with rule-driven workflow dispatch",
			"endpoints":   endpoints,
			"api_status": gin.H{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	expected := []byte(apiAccessKey)

	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			return
		}

		c.Next()
	}
}
