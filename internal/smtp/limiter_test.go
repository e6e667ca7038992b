package smtp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	t.Run("nil 与零速率不限速", func(t *testing.T) {
		var nilThrottle *Throttle
		assert.True(t, nilThrottle.Allow())
		assert.NoError(t, nilThrottle.Wait(context.Background()))

		unlimited := NewThrottle(0, 0)
		for i := 0; i < 100; i++ {
			assert.True(t, unlimited.Allow())
		}
	})

	t.Run("令牌耗尽后拒绝", func(t *testing.T) {
		throttle := NewThrottle(0.001, 2)
		assert.True(t, throttle.Allow())
		assert.True(t, throttle.Allow())
		assert.False(t, throttle.Allow())
	})

	t.Run("ctx 取消时 Wait 返回错误", func(t *testing.T) {
		throttle := NewThrottle(0.001, 1)
		assert.True(t, throttle.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, throttle.Wait(ctx))

		var nilThrottle *Throttle
		assert.Error(t, nilThrottle.Wait(ctx))
	})
}
