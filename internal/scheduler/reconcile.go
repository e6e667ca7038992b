package scheduler

import (
	"time"

	"remindmail/backend/internal/domain"
)

// job 一次投递尝试：某条提醒的某个到期时间点
type job struct {
	reminderID string
	title      string
	at         time.Time
	message    domain.OutgoingMessage
}

// result 投递结果
type result struct {
	job      job
	delivery domain.Delivery
	err      error
}

// plan 在快照上计算本次需要投递的时间点：
// 待重试集合 ∪ 已到期的计划时间点，去掉已发送的。宽限期内的提醒不再投递。
func plan(reminders []domain.Reminder, now time.Time) []job {
	var jobs []job
	for i := range reminders {
		r := &reminders[i]
		if r.DeletionTime != nil {
			continue
		}

		work := domain.UniqueTimes(r.PendingTimes)
		for _, t := range r.ScheduledTimes {
			if !t.After(now) {
				work = domain.AddTime(work, t)
			}
		}
		work = domain.RemoveTimes(work, r.SentTimes)
		domain.SortTimes(work)

		for _, at := range work {
			jobs = append(jobs, job{
				reminderID: r.ID,
				title:      r.Title,
				at:         at,
				message:    domain.NewReminderMessage("", r),
			})
		}
	}
	return jobs
}

// outcome reconcile 的结果摘要
type outcome struct {
	delivered    int
	graceEntered int
	purged       []string
	changed      bool
}

// reconcile 把投递结果合并到当前模型（按 id），然后推进每条提醒的状态：
//  1. 成功的时间点加入 SentTimes（幂等），并从待重试集合移除
//  2. ScheduledTimes 只保留未来的时间点，到期未发送的进入 PendingTimes
//  3. 全部发送完成且未设置删除时间时，设置 DeletionTime = now + grace
//  4. 删除时间已到的提醒被清除
//
// 投递期间被删除的提醒直接忽略其结果；投递期间新建的提醒只做规范化。
// current 不会被修改。
func reconcile(current []domain.Reminder, results []result, now time.Time, grace time.Duration) ([]domain.Reminder, outcome) {
	sent := make(map[string][]time.Time)
	for _, res := range results {
		if res.err == nil {
			sent[res.job.reminderID] = append(sent[res.job.reminderID], res.job.at)
		}
	}

	var out outcome
	next := make([]domain.Reminder, 0, len(current))
	for i := range current {
		before := &current[i]
		r := before.Clone()
		r.Normalize()

		for _, at := range sent[r.ID] {
			if !domain.ContainsTime(r.SentTimes, at) {
				r.SentTimes = append(r.SentTimes, at)
				out.delivered++
			}
		}

		future := make([]time.Time, 0, len(r.ScheduledTimes))
		for _, t := range r.ScheduledTimes {
			switch {
			case domain.ContainsTime(r.SentTimes, t):
			case t.After(now):
				future = append(future, t)
			default:
				r.PendingTimes = domain.AddTime(r.PendingTimes, t)
			}
		}
		r.ScheduledTimes = future
		r.PendingTimes = domain.RemoveTimes(r.PendingTimes, r.SentTimes)

		if r.DeletionTime == nil && r.FullySent() {
			d := now.Add(grace)
			r.DeletionTime = &d
			out.graceEntered++
		}

		if r.DeletionTime != nil && !r.DeletionTime.After(now) {
			out.purged = append(out.purged, r.ID)
			out.changed = true
			continue
		}

		if !sameReminder(before, &r) {
			out.changed = true
		}
		next = append(next, r)
	}
	return next, out
}

// sameReminder 按时刻比较两条提醒的可观察状态
func sameReminder(a, b *domain.Reminder) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Description != b.Description {
		return false
	}
	if len(a.Emails) != len(b.Emails) || (a.Emails == nil) != (b.Emails == nil) {
		return false
	}
	for i := range a.Emails {
		if a.Emails[i] != b.Emails[i] {
			return false
		}
	}
	if !sameTimes(a.ScheduledTimes, b.ScheduledTimes) ||
		!sameTimes(a.PendingTimes, b.PendingTimes) ||
		!sameTimes(a.SentTimes, b.SentTimes) {
		return false
	}
	switch {
	case a.DeletionTime == nil && b.DeletionTime == nil:
		return true
	case a.DeletionTime == nil || b.DeletionTime == nil:
		return false
	default:
		return a.DeletionTime.Equal(*b.DeletionTime)
	}
}

func sameTimes(a, b []time.Time) bool {
	if len(a) != len(b) || (a == nil) != (b == nil) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
