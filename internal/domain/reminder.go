package domain

import (
	"time"
)

// DefaultGracePeriod 全部发送完成后到自动删除之间的宽限期
const DefaultGracePeriod = 24 * time.Hour

// ReminderState 提醒的生命周期状态（由字段推导，不单独持久化）
type ReminderState string

const (
	ReminderStateActive        ReminderState = "active"         // 仍有待发送的时间点
	ReminderStatePartiallySent ReminderState = "partially_sent" // 部分时间点已发送
	ReminderStateGracePeriod   ReminderState = "grace_period"   // 已全部发送，等待删除
	ReminderStateExpired       ReminderState = "expired"        // 删除时间已到，下一次调度时清除
)

// Reminder 表示一条邮件提醒。
//
// 每个用户设定的时间点在任意时刻恰好属于以下三个集合之一：
//   - ScheduledTimes: 尚未到期
//   - PendingTimes:   已到期但尚未确认发送成功（下一次调度会重试）
//   - SentTimes:      已发送成功（只增不减）
type Reminder struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	Emails         []string    `json:"emails"`
	ScheduledTimes []time.Time `json:"scheduledTimes"`
	PendingTimes   []time.Time `json:"pendingTimes"`
	SentTimes      []time.Time `json:"sentTimes"`
	DeletionTime   *time.Time  `json:"deletionTime,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Body 返回邮件正文：描述为空时回退到标题
func (r *Reminder) Body() string {
	if r.Description != "" {
		return r.Description
	}
	return r.Title
}

// State 根据当前时间推导生命周期状态
func (r *Reminder) State(now time.Time) ReminderState {
	if r.DeletionTime != nil {
		if !r.DeletionTime.After(now) {
			return ReminderStateExpired
		}
		return ReminderStateGracePeriod
	}
	if len(r.SentTimes) > 0 {
		return ReminderStatePartiallySent
	}
	return ReminderStateActive
}

// FullySent 判断是否所有时间点都已发送成功
func (r *Reminder) FullySent() bool {
	return len(r.ScheduledTimes) == 0 && len(r.PendingTimes) == 0 && len(r.SentTimes) > 0
}

// Clone 深拷贝，调度器在锁外工作时只接触副本
func (r *Reminder) Clone() Reminder {
	c := *r
	c.Emails = append([]string(nil), r.Emails...)
	c.ScheduledTimes = append([]time.Time(nil), r.ScheduledTimes...)
	c.PendingTimes = append([]time.Time(nil), r.PendingTimes...)
	c.SentTimes = append([]time.Time(nil), r.SentTimes...)
	if r.DeletionTime != nil {
		d := *r.DeletionTime
		c.DeletionTime = &d
	}
	return c
}

// Normalize 规范化集合字段：nil 变为空切片，去重，
// 并从 PendingTimes 中移除已确认发送的时间点。
// 仍有未发送时间点的提醒不处于宽限期，DeletionTime 被清除。
func (r *Reminder) Normalize() {
	if r.Emails == nil {
		r.Emails = []string{}
	}
	r.ScheduledTimes = UniqueTimes(r.ScheduledTimes)
	r.SentTimes = UniqueTimes(r.SentTimes)
	r.PendingTimes = RemoveTimes(UniqueTimes(r.PendingTimes), r.SentTimes)
	if r.DeletionTime != nil && r.HasUnsent() {
		r.DeletionTime = nil
	}
}

// HasUnsent 是否还有未确认发送的时间点
func (r *Reminder) HasUnsent() bool {
	return len(r.PendingTimes) > 0 || len(RemoveTimes(r.ScheduledTimes, r.SentTimes)) > 0
}

// CloneReminders 深拷贝整个提醒列表
func CloneReminders(list []Reminder) []Reminder {
	out := make([]Reminder, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}
