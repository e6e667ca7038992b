package notify

import "time"

// EventType 通知事件类型
type EventType string

const (
	// EventRemindersUpdated 提醒集合的可观察状态发生变化（新发送、待重试变化、进入宽限期、被清除）
	EventRemindersUpdated EventType = "reminders.updated"
	// EventEmailError 某个时间点的提醒投递失败
	EventEmailError EventType = "email.error"
	// EventTestEmailFailed 测试邮件发送失败
	EventTestEmailFailed EventType = "test_email.failed"
)

// Event 通知事件
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RemindersUpdated reminders.updated 的负载
type RemindersUpdated struct {
	Count     int      `json:"count"`               // 变化后的提醒总数
	Delivered int      `json:"delivered,omitempty"` // 本次新增发送成功的时间点数
	Purged    []string `json:"purged,omitempty"`    // 被清除的提醒 id
}

// EmailError email.error 的负载
type EmailError struct {
	ReminderID    string    `json:"reminderId"`
	ReminderTitle string    `json:"reminderTitle"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Error         string    `json:"error"`
}

// TestEmailFailed test_email.failed 的负载
type TestEmailFailed struct {
	To    string `json:"to"`
	Error string `json:"error"`
}

// Publisher 发布通知。实现必须是非阻塞的，调用方从不等待订阅者。
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc 函数适配器
type PublisherFunc func(Event)

// Publish 实现 Publisher
func (f PublisherFunc) Publish(event Event) { f(event) }

// Nop 丢弃所有事件
var Nop Publisher = PublisherFunc(func(Event) {})
