package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"remindmail/backend/internal/scheduler"
)

// StorageChecker 存储可用性
type StorageChecker interface {
	Health() error
}

// SchedulerStatus 调度器最近一次运行的状态
type SchedulerStatus interface {
	Status() scheduler.Status
	Interval() time.Duration
}

// Pinger 外部依赖连通性（Redis）
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options 健康检查参数
type Options struct {
	// StartupGrace 启动后在此期间内尚未调度不视为异常
	StartupGrace time.Duration
	// MaxGoroutines 超过即视为存活异常
	MaxGoroutines int
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health    healthcheck.Handler
	store     StorageChecker
	scheduler SchedulerStatus
	redis     Pinger
	opts      Options
	startedAt time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// NewHealthChecker 创建健康检查器；scheduler 与 redis 可以为 nil
func NewHealthChecker(store StorageChecker, sched SchedulerStatus, redis Pinger, opts Options, logger *zap.Logger) *HealthChecker {
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = time.Minute
	}
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := &HealthChecker{
		health:    healthcheck.NewHandler(),
		store:     store,
		scheduler: sched,
		redis:     redis,
		opts:      opts,
		startedAt: time.Now(),
		now:       time.Now,
		logger:    logger.Named("health"),
	}

	// 添加健康检查
	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储目录可读写
	hc.health.AddLivenessCheck("storage", hc.checkStorage)

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(hc.opts.MaxGoroutines))

	// 调度循环仍在运行
	if hc.scheduler != nil {
		hc.health.AddReadinessCheck("scheduler", hc.checkScheduler)
	}

	// Redis 连接检查（如果启用）
	if hc.redis != nil {
		hc.health.AddReadinessCheck("redis", healthcheck.Timeout(hc.checkRedis, 3*time.Second))
	}
}

func (hc *HealthChecker) checkStorage() error {
	return hc.store.Health()
}

// checkScheduler 最近一次调度距今不超过 3 个间隔；启动宽限期内放行
func (hc *HealthChecker) checkScheduler() error {
	status := hc.scheduler.Status()
	now := hc.now()

	if status.LastTickAt.IsZero() {
		if now.Sub(hc.startedAt) <= hc.opts.StartupGrace {
			return nil
		}
		return fmt.Errorf("no reminder check has run since start")
	}

	limit := 3*hc.scheduler.Interval() + hc.opts.StartupGrace
	if age := now.Sub(status.LastTickAt); age > limit {
		return fmt.Errorf("last reminder check was %s ago", age.Round(time.Second))
	}
	return nil
}

func (hc *HealthChecker) checkRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return hc.redis.Ping(ctx)
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行健康检查，返回各项结果摘要
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.checkStorage(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
		hc.logger.Warn("storage health check failed", zap.Error(err))
	} else {
		results["storage"] = "OK"
	}

	if hc.scheduler != nil {
		if err := hc.checkScheduler(); err != nil {
			results["scheduler"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["scheduler"] = "OK"
		}
		status := hc.scheduler.Status()
		if !status.LastTickAt.IsZero() {
			results["last_check"] = status.LastTickAt.Format(time.RFC3339)
		}
		if status.LastError != nil {
			results["last_check_error"] = status.LastError.Error()
		}
	}

	if hc.redis != nil {
		if err := hc.checkRedis(); err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["redis"] = "OK"
		}
	} else {
		results["redis"] = "NOT_AVAILABLE"
	}

	results["uptime"] = hc.now().Sub(hc.startedAt).Round(time.Second).String()
	results["timestamp"] = hc.now().Format(time.RFC3339)

	return results
}

// Healthy 所有检查均通过
func (hc *HealthChecker) Healthy(results map[string]string) bool {
	for key, v := range results {
		switch key {
		case "storage", "scheduler", "redis":
			if v != "OK" && v != "NOT_AVAILABLE" {
				return false
			}
		}
	}
	return true
}
