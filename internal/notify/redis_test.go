package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu        sync.Mutex
	published map[string][][]byte
	err       error
	closed    bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{published: make(map[string][][]byte)}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	f.published[channel] = append(f.published[channel], message.([]byte))
	return goredis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(_ context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", f.err)
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRedis) messages(channel string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published[channel]...)
}

func TestRedisBridge_ForwardsEvents(t *testing.T) {
	rdb := newFakeRedis()
	bridge := newRedisBridge(rdb, "test:events", nil)
	broker := NewBroker(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx, broker.Subscribe(8)) }()

	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	broker.Publish(Event{
		Type: EventEmailError,
		Data: EmailError{ReminderID: "r-1", ReminderTitle: "Pay rent", ScheduledTime: at, Error: "boom"},
	})

	require.Eventually(t, func() bool { return len(rdb.messages("test:events")) == 1 }, time.Second, 5*time.Millisecond)

	var decoded struct {
		Type EventType  `json:"type"`
		Data EmailError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rdb.messages("test:events")[0], &decoded))
	assert.Equal(t, EventEmailError, decoded.Type)
	assert.Equal(t, "r-1", decoded.Data.ReminderID)
	assert.True(t, decoded.Data.ScheduledTime.Equal(at))

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 0, broker.Subscribers(), "Run 结束后取消订阅")
}

func TestRedisBridge_PublishFailureIsNotFatal(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	bridge := newRedisBridge(rdb, "", nil)
	assert.Equal(t, "remindmail:events", bridge.channel)

	broker := NewBroker(nil)
	sub := broker.Subscribe(8)
	broker.Publish(Event{Type: EventRemindersUpdated})
	broker.Close()

	// 订阅关闭后 Run 正常返回
	assert.NoError(t, bridge.Run(context.Background(), sub))
	assert.Error(t, bridge.Ping(context.Background()))
	assert.NoError(t, bridge.Close())
	assert.True(t, rdb.closed)
}
