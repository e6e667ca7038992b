package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"remindmail/backend/internal/config"
)

// redisPublisher 是 RedisBridge 依赖的最小接口，*goredis.Client 满足它
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// RedisBridge 把通知事件以 JSON 转发到 Redis Pub/Sub 频道，
// 供同一台机器上的其它进程（托盘程序、脚本）订阅。转发失败只记录日志。
type RedisBridge struct {
	rdb     redisPublisher
	channel string
	timeout time.Duration
	log     *zap.Logger
}

// NewRedisBridge 连接 Redis 并创建桥接
func NewRedisBridge(cfg config.RedisConfig, log *zap.Logger) (*RedisBridge, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	bridge := newRedisBridge(rdb, cfg.Channel, log)
	bridge.log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.String("channel", cfg.Channel),
	)
	return bridge, nil
}

func newRedisBridge(rdb redisPublisher, channel string, log *zap.Logger) *RedisBridge {
	if log == nil {
		log = zap.NewNop()
	}
	if channel == "" {
		channel = "remindmail:events"
	}
	return &RedisBridge{
		rdb:     rdb,
		channel: channel,
		timeout: 3 * time.Second,
		log:     log.Named("redis-bridge"),
	}
}

// Run 转发订阅中的事件，直到 ctx 结束或订阅关闭
func (r *RedisBridge) Run(ctx context.Context, sub *Subscription) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			r.forward(ctx, event)
		}
	}
}

func (r *RedisBridge) forward(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.log.Error("failed to encode event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.rdb.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		r.log.Warn("failed to publish event to Redis",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Ping 检查 Redis 连接，用于就绪检查
func (r *RedisBridge) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (r *RedisBridge) Close() error {
	if err := r.rdb.Close(); err != nil {
		r.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}
