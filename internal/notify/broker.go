package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBuffer 订阅者的默认缓冲大小
const DefaultBuffer = 64

var _ Publisher = (*Broker)(nil)

// Broker 进程内发布订阅。
//
// Publish 从不阻塞：订阅者缓冲区满时丢弃其最旧的一条事件，
// 订阅者总能看到最新状态，但不保证收到每一条。
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	log    *zap.Logger
	now    func() time.Time
}

// NewBroker 创建 Broker
func NewBroker(log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		subs: make(map[uint64]*Subscription),
		log:  log.Named("notify"),
		now:  time.Now,
	}
}

// Subscription 一个订阅者
type Subscription struct {
	id     uint64
	broker *Broker

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped uint64
}

// Subscribe 注册订阅者，buffer <= 0 时使用 DefaultBuffer
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		broker: b,
		ch:     make(chan Event, buffer),
	}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish 向所有订阅者投递事件
func (b *Broker) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.offer(event) {
			b.log.Debug("subscriber lagging, dropped oldest event",
				zap.Uint64("subscriber", sub.id),
				zap.String("type", string(event.Type)))
		}
	}
}

// Subscribers 当前订阅者数量
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭所有订阅，之后的 Publish 不再投递
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}

// Events 事件通道，订阅关闭后通道被关闭
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped 因缓冲区满而丢弃的事件数
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close 取消订阅
func (s *Subscription) Close() {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()

	s.shutdown()
}

// offer 非阻塞投递，返回是否丢弃了旧事件
func (s *Subscription) offer(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- event:
		return false
	default:
	}

	// 缓冲区满：丢弃最旧的一条再放入
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- event:
	default:
	}
	return true
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
