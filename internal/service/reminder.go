package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/scheduler"
)

// ReminderEngine 提醒集合的唯一写入者（scheduler.Engine）
type ReminderEngine interface {
	List() ([]domain.Reminder, error)
	Add(r domain.Reminder) (domain.Reminder, error)
	Remove(id string) error
	Clear() (int, error)
	Tick(ctx context.Context) (scheduler.TickReport, error)
}

var _ ReminderEngine = (*scheduler.Engine)(nil)

// ReminderService 提醒服务
type ReminderService struct {
	engine    ReminderEngine
	history   *HistoryService
	validator *domain.EmailValidator
	log       *zap.Logger
	now       func() time.Time
}

// NewReminderService 创建提醒服务；history 为 nil 时不记录收件人历史
func NewReminderService(engine ReminderEngine, history *HistoryService, log *zap.Logger) *ReminderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReminderService{
		engine:    engine,
		history:   history,
		validator: domain.NewEmailValidator(),
		log:       log.Named("reminder"),
		now:       time.Now,
	}
}

// CreateReminderInput 创建提醒输入
type CreateReminderInput struct {
	Title          string      `json:"title" binding:"max=200"`
	Description    string      `json:"description" binding:"omitempty,max=5000"`
	Emails         []string    `json:"emails" binding:"max=50"`
	ScheduledTimes []time.Time `json:"scheduledTimes" binding:"max=100"`
}

// ReminderView 带有推导状态的提醒
type ReminderView struct {
	domain.Reminder
	State domain.ReminderState `json:"state"`
}

// Create 创建提醒
//
// 参数:
//   - input: 标题、收件人与提醒时间
//
// 返回值:
//   - *ReminderView: 已持久化的提醒
//   - error: 校验失败时返回 domain 中的校验错误
func (s *ReminderService) Create(input CreateReminderInput) (*ReminderView, error) {
	now := s.now()

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domain.ErrTitleRequired
	}

	emails := make([]string, 0, len(input.Emails))
	for _, e := range input.Emails {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if err := s.validator.ValidateEmail(e); err != nil {
			return nil, &ValidationError{Field: "emails", Value: e, Err: domain.ErrInvalidEmail}
		}
		emails = append(emails, e)
	}
	if len(emails) == 0 {
		return nil, domain.ErrRecipientsRequired
	}

	if len(input.ScheduledTimes) == 0 {
		return nil, domain.ErrTimesRequired
	}
	times := make([]time.Time, 0, len(input.ScheduledTimes))
	for _, t := range input.ScheduledTimes {
		t = t.UTC().Round(0)
		if !t.After(now) {
			return nil, &ValidationError{Field: "scheduledTimes", Value: t.Format(time.RFC3339), Err: domain.ErrTimeInPast}
		}
		if domain.ContainsTime(times, t) {
			return nil, &ValidationError{Field: "scheduledTimes", Value: t.Format(time.RFC3339), Err: domain.ErrDuplicateTime}
		}
		times = append(times, t)
	}
	domain.SortTimes(times)

	created, err := s.engine.Add(domain.Reminder{
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		Emails:         emails,
		ScheduledTimes: times,
		PendingTimes:   []time.Time{},
		SentTimes:      []time.Time{},
	})
	if err != nil {
		return nil, err
	}

	// 历史记录失败不影响创建结果
	if s.history != nil {
		if _, err := s.history.Add(emails...); err != nil {
			s.log.Warn("failed to record email history", zap.Error(err))
		}
	}

	return s.view(created, now), nil
}

// List 列出全部提醒
func (s *ReminderService) List() ([]ReminderView, error) {
	reminders, err := s.engine.List()
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]ReminderView, 0, len(reminders))
	for _, r := range reminders {
		views = append(views, *s.view(r, now))
	}
	return views, nil
}

// Delete 按 id 删除提醒
func (s *ReminderService) Delete(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrReminderNotFound
	}
	return s.engine.Remove(id)
}

// ClearAll 删除全部提醒
func (s *ReminderService) ClearAll() (int, error) {
	return s.engine.Clear()
}

// CheckNow 手动触发一次调度
func (s *ReminderService) CheckNow(ctx context.Context) (scheduler.TickReport, error) {
	return s.engine.Tick(ctx)
}

func (s *ReminderService) view(r domain.Reminder, now time.Time) *ReminderView {
	return &ReminderView{Reminder: r, State: r.State(now)}
}
