package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"remindmail/backend/internal/config"
	"remindmail/backend/internal/health"
	"remindmail/backend/internal/middleware"
	"remindmail/backend/internal/monitoring"
	"remindmail/backend/internal/service"
	"remindmail/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	reminders *service.ReminderService
	settings  *service.SettingsService
	history   *service.HistoryService
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	ReminderService *service.ReminderService
	SettingsService *service.SettingsService
	HistoryService  *service.HistoryService
	WebSocketHub    *websocket.Hub          // 可选
	Health          *health.HealthChecker   // 可选
	Metrics         *monitoring.Metrics     // 可选
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)

	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Max-Body-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		reminders: deps.ReminderService,
		settings:  deps.SettingsService,
		history:   deps.HistoryService,
	}

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		results := deps.Health.CheckHealth()
		status := http.StatusOK
		if !deps.Health.Healthy(results) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": results})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}

	// Prometheus 指标
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// WebSocket 自行校验 API Key（浏览器无法设置自定义请求头）
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}

		api := v1.Group("")
		api.Use(middleware.NewAPIKeyAuth(deps.Config.Server.APIKey, log).RequireAPIKey())
		api.Use(middleware.ValidateContentType("application/json"))

		// ========== Reminder Routes ==========
		reminderRoutes := api.Group("/reminders")
		{
			reminderRoutes.GET("", handler.listReminders)
			reminderRoutes.POST("", handler.createReminder)
			reminderRoutes.DELETE("", handler.clearReminders)
			reminderRoutes.POST("/check", handler.checkReminders)
			reminderRoutes.DELETE("/:id", handler.deleteReminder)
		}

		// ========== Settings Routes ==========
		settingsRoutes := api.Group("/settings")
		{
			settingsRoutes.GET("", handler.getSettings)
			settingsRoutes.PUT("", handler.saveSettings)
			settingsRoutes.POST("/test-email", handler.sendTestEmail)
		}

		// ========== Email History Routes ==========
		historyRoutes := api.Group("/email-history")
		{
			historyRoutes.GET("", handler.listHistory)
			historyRoutes.POST("", handler.addHistory)
			historyRoutes.DELETE("", handler.clearHistory)
		}
	}

	return router
}
