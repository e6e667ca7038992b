package smtp

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle 出站投递限速器（令牌桶）。
//
// 零值或 nil 表示不限速，调度器在每次发起投递前调用 Wait。
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle 创建限速器
//
// 参数:
//   - perSecond: 每秒允许发起的投递数，<= 0 表示不限速
//   - burst: 令牌桶容量，<= 0 时按 1 处理
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return &Throttle{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait 阻塞直到获得一个令牌或 ctx 结束
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}

// Allow 非阻塞地尝试获取令牌
func (t *Throttle) Allow() bool {
	if t == nil || t.limiter == nil {
		return true
	}
	return t.limiter.Allow()
}
