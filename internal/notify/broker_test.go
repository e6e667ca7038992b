package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroker_PublishToAllSubscribers(t *testing.T) {
	broker := NewBroker(nil)
	a := broker.Subscribe(4)
	b := broker.Subscribe(4)
	assert.Equal(t, 2, broker.Subscribers())

	broker.Publish(Event{Type: EventRemindersUpdated, Data: RemindersUpdated{Count: 3}})

	for _, sub := range []*Subscription{a, b} {
		e := receive(t, sub)
		assert.Equal(t, EventRemindersUpdated, e.Type)
		assert.False(t, e.Timestamp.IsZero())
		assert.Equal(t, RemindersUpdated{Count: 3}, e.Data)
	}
}

func TestBroker_SlowSubscriberKeepsNewest(t *testing.T) {
	broker := NewBroker(nil)
	sub := broker.Subscribe(2)

	for i := 1; i <= 5; i++ {
		broker.Publish(Event{Type: EventRemindersUpdated, Data: RemindersUpdated{Count: i}})
	}

	first := receive(t, sub)
	second := receive(t, sub)
	assert.Equal(t, 4, first.Data.(RemindersUpdated).Count)
	assert.Equal(t, 5, second.Data.(RemindersUpdated).Count)
	assert.Equal(t, uint64(3), sub.Dropped())
}

func TestBroker_UnsubscribeAndClose(t *testing.T) {
	broker := NewBroker(nil)
	sub := broker.Subscribe(1)
	sub.Close()
	sub.Close() // 重复关闭安全

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, broker.Subscribers())

	// 已无订阅者时发布不阻塞
	broker.Publish(Event{Type: EventEmailError})

	other := broker.Subscribe(1)
	broker.Close()
	_, ok = <-other.Events()
	assert.False(t, ok)

	late := broker.Subscribe(1)
	_, ok = <-late.Events()
	assert.False(t, ok, "关闭后的订阅立即结束")
	broker.Publish(Event{Type: EventEmailError})
}

func TestBroker_ConcurrentPublish(t *testing.T) {
	broker := NewBroker(nil)
	sub := broker.Subscribe(8)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				broker.Publish(Event{Type: EventRemindersUpdated})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sub.Events(), 8)
	assert.Equal(t, uint64(1000-8), sub.Dropped())
}

func TestPublisherFunc(t *testing.T) {
	var got []EventType
	p := PublisherFunc(func(e Event) { got = append(got, e.Type) })
	p.Publish(Event{Type: EventTestEmailFailed})
	Nop.Publish(Event{Type: EventTestEmailFailed})
	assert.Equal(t, []EventType{EventTestEmailFailed}, got)
}
