package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"remindmail/backend/internal/config"
	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/notify"
	"remindmail/backend/internal/smtp"
	"remindmail/backend/internal/storage"
)

// Options 调度参数
type Options struct {
	Interval           time.Duration
	WarmupDelay        time.Duration
	GracePeriod        time.Duration
	MaxConcurrentSends int
}

// OptionsFromConfig 由配置构建调度参数
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		Interval:           cfg.Interval,
		WarmupDelay:        cfg.WarmupDelay,
		GracePeriod:        cfg.GracePeriod,
		MaxConcurrentSends: cfg.MaxConcurrentSends,
	}
}

// Metrics 调度器上报的指标
type Metrics interface {
	ObserveTick(result string, d time.Duration)
	ObserveDelivery(result string)
	ObservePurged(n int)
	SetReminderStates(counts map[domain.ReminderState]int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(string, time.Duration)               {}
func (nopMetrics) ObserveDelivery(string)                          {}
func (nopMetrics) ObservePurged(int)                               {}
func (nopMetrics) SetReminderStates(map[domain.ReminderState]int) {}

// TickReport 一次调度的结果
type TickReport struct {
	StartedAt    time.Time     `json:"startedAt"`
	Attempted    int           `json:"attempted"`
	Delivered    int           `json:"delivered"`
	Failed       int           `json:"failed"`
	GraceEntered int           `json:"graceEntered"`
	Purged       []string      `json:"purged"`
	Changed      bool          `json:"changed"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"durationMs"`
}

// Status 最近一次调度的状态，用于健康检查
type Status struct {
	LastTickAt time.Time
	LastError  error
	LastReport TickReport
}

// Engine 提醒集合的唯一写入者。
//
// 内存中持有权威副本（首次使用时从存储加载，存储失败后重新加载），
// 所有修改都先原子地写入存储再生效。mu 保护模型，tickMu 保证调度不重叠；
// 投递在 mu 之外进行，用户操作不会被慢速 SMTP 阻塞。
type Engine struct {
	store     storage.ReminderStore
	settings  storage.SettingsStore
	sender    smtp.Sender
	throttle  *smtp.Throttle
	publisher notify.Publisher
	metrics   Metrics
	log       *zap.Logger
	opts      Options
	now       func() time.Time

	mu        sync.Mutex
	reminders []domain.Reminder
	loaded    bool

	tickMu sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

// Option 可选依赖
type Option func(*Engine)

// WithThrottle 设置出站限速
func WithThrottle(t *smtp.Throttle) Option {
	return func(e *Engine) { e.throttle = t }
}

// WithPublisher 设置通知发布者
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithMetrics 设置指标上报
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log.Named("scheduler")
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine 创建调度引擎
func NewEngine(store storage.ReminderStore, settings storage.SettingsStore, sender smtp.Sender, opts Options, options ...Option) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.WarmupDelay < 0 {
		opts.WarmupDelay = 0
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = domain.DefaultGracePeriod
	}
	if opts.MaxConcurrentSends <= 0 {
		opts.MaxConcurrentSends = 1
	}

	e := &Engine{
		store:     store,
		settings:  settings,
		sender:    sender,
		publisher: notify.Nop,
		metrics:   nopMetrics{},
		log:       zap.NewNop(),
		opts:      opts,
		now:       time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// ========== 用户操作 ==========

// List 返回全部提醒的副本
func (e *Engine) List() ([]domain.Reminder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return domain.CloneReminders(e.reminders), nil
}

// Add 新增一条提醒，持久化成功后返回存储的副本。未指定 id 时生成 UUIDv7。
func (e *Engine) Add(r domain.Reminder) (domain.Reminder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoadedLocked(); err != nil {
		return domain.Reminder{}, err
	}

	r = r.Clone()
	if r.ID == "" {
		r.ID = newID()
	}
	for i := range e.reminders {
		if e.reminders[i].ID == r.ID {
			return domain.Reminder{}, fmt.Errorf("%w: %s", domain.ErrReminderExists, r.ID)
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.now().UTC().Round(0)
	}
	r.Normalize()

	next := append(domain.CloneReminders(e.reminders), r)
	if err := e.commitLocked(next); err != nil {
		return domain.Reminder{}, err
	}

	e.log.Info("reminder created",
		zap.String("id", r.ID),
		zap.Int("recipients", len(r.Emails)),
		zap.Int("times", len(r.ScheduledTimes)))
	e.publishUpdated(len(next), 0, nil)
	return r.Clone(), nil
}

// Remove 删除指定提醒
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoadedLocked(); err != nil {
		return err
	}

	idx := -1
	for i := range e.reminders {
		if e.reminders[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ErrReminderNotFound
	}

	next := make([]domain.Reminder, 0, len(e.reminders)-1)
	next = append(next, domain.CloneReminders(e.reminders[:idx])...)
	next = append(next, domain.CloneReminders(e.reminders[idx+1:])...)
	if err := e.commitLocked(next); err != nil {
		return err
	}

	e.log.Info("reminder deleted", zap.String("id", id))
	e.publishUpdated(len(next), 0, nil)
	return nil
}

// Clear 删除全部提醒，返回删除数量
func (e *Engine) Clear() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoadedLocked(); err != nil {
		return 0, err
	}

	n := len(e.reminders)
	if err := e.commitLocked([]domain.Reminder{}); err != nil {
		return 0, err
	}

	e.log.Info("all reminders cleared", zap.Int("count", n))
	e.publishUpdated(0, 0, nil)
	return n, nil
}

// ========== 调度 ==========

// Tick 执行一次调度；已有调度在进行时等待其结束后再执行
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.tick(ctx)
}

// TryTick 执行一次调度；已有调度在进行时立即返回 ran=false
func (e *Engine) TryTick(ctx context.Context) (report TickReport, ran bool, err error) {
	if !e.tickMu.TryLock() {
		return TickReport{}, false, nil
	}
	defer e.tickMu.Unlock()

	report, err = e.tick(ctx)
	return report, true, err
}

// Run 启动后等待 WarmupDelay 执行第一次调度，之后每隔 Interval 执行一次，直到 ctx 结束。
// 单次调度失败只记录日志，循环继续。
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("scheduler started",
		zap.Duration("interval", e.opts.Interval),
		zap.Duration("warmup", e.opts.WarmupDelay),
		zap.Duration("grace", e.opts.GracePeriod))

	warmup := time.NewTimer(e.opts.WarmupDelay)
	defer warmup.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-warmup.C:
	}

	if _, err := e.Tick(ctx); err != nil {
		e.log.Error("warm-up check failed", zap.Error(err))
	}

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			_, ran, err := e.TryTick(ctx)
			if !ran {
				e.log.Debug("previous check still running, skipping")
				continue
			}
			if err != nil {
				e.log.Error("reminder check failed", zap.Error(err))
			}
		}
	}
}

// Status 返回最近一次调度的状态
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// Interval 轮询间隔
func (e *Engine) Interval() time.Duration {
	return e.opts.Interval
}

func (e *Engine) tick(ctx context.Context) (report TickReport, err error) {
	started := e.now()
	now := started.UTC().Round(0)
	report.StartedAt = now
	report.Purged = []string{}

	defer func() {
		report.Duration = e.now().Sub(started)
		report.DurationMs = report.Duration.Milliseconds()
		e.finishTick(report, err)
	}()

	// 1. 在锁内取快照并计算待投递任务
	e.mu.Lock()
	if err := e.ensureLoadedLocked(); err != nil {
		e.mu.Unlock()
		return report, err
	}
	jobs := plan(e.reminders, now)
	e.mu.Unlock()

	// 2. 锁外投递
	results := e.deliver(ctx, jobs)
	report.Attempted = len(results)
	for _, res := range results {
		if res.err != nil {
			report.Failed++
		}
	}

	// 3-7. 合并到当前模型、推进状态、持久化
	e.mu.Lock()
	next, out := reconcile(e.reminders, results, now, e.opts.GracePeriod)
	if out.changed {
		if err := e.commitLocked(next); err != nil {
			e.mu.Unlock()
			e.publishFailures(results)
			return report, fmt.Errorf("persist check results: %w", err)
		}
	}
	states := countStates(e.reminders, now)
	e.mu.Unlock()

	report.Delivered = out.delivered
	report.GraceEntered = out.graceEntered
	report.Purged = append(report.Purged, out.purged...)
	report.Changed = out.changed

	e.metrics.SetReminderStates(states)
	e.metrics.ObservePurged(len(out.purged))

	// 8. 通知
	e.publishFailures(results)
	if out.changed {
		e.publishUpdated(len(next), out.delivered, out.purged)
	}

	for _, id := range out.purged {
		e.log.Info("reminder purged after grace period", zap.String("id", id))
	}
	if report.Attempted > 0 || out.changed {
		e.log.Info("reminder check finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
			zap.Int("graceEntered", report.GraceEntered),
			zap.Int("purged", len(report.Purged)))
	}
	return report, nil
}

// deliver 并发投递，每个任务的失败互不影响。设置只读取一次。
func (e *Engine) deliver(ctx context.Context, jobs []job) []result {
	results := make([]result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	creds, credsErr := e.loadCredentials()

	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrentSends)

	for i := range jobs {
		results[i].job = jobs[i]

		if credsErr != nil {
			results[i].err = credsErr
			e.metrics.ObserveDelivery("not_configured")
			continue
		}

		g.Go(func() error {
			res := &results[i]
			if err := e.throttle.Wait(ctx); err != nil {
				res.err = fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
				e.metrics.ObserveDelivery("failure")
				return nil
			}

			msg := res.job.message
			msg.From = creds.Email
			res.delivery, res.err = e.sender.Send(ctx, creds, msg)

			if res.err != nil {
				e.metrics.ObserveDelivery(deliveryResultLabel(res.err))
				e.log.Warn("reminder delivery failed",
					zap.String("reminderId", res.job.reminderID),
					zap.Time("scheduledTime", res.job.at),
					zap.Error(res.err))
				return nil
			}

			e.metrics.ObserveDelivery("success")
			e.log.Info("reminder delivered",
				zap.String("reminderId", res.job.reminderID),
				zap.Time("scheduledTime", res.job.at),
				zap.String("messageId", res.delivery.MessageID))
			return nil
		})
	}
	_ = g.Wait()

	if credsErr != nil {
		e.log.Warn("skipping deliveries, email is not configured",
			zap.Int("pending", len(jobs)),
			zap.Error(credsErr))
	}
	return results
}

// loadCredentials 读取 SMTP 设置；不可读或不完整时返回 ErrNotConfigured
func (e *Engine) loadCredentials() (domain.SMTPSettings, error) {
	settings, err := e.settings.LoadSettings()
	if err != nil {
		return domain.SMTPSettings{}, fmt.Errorf("%w: %w", domain.ErrNotConfigured, err)
	}
	if !settings.Email.Configured() {
		return domain.SMTPSettings{}, domain.ErrNotConfigured
	}
	creds := settings.Email
	creds.Email = strings.TrimSpace(creds.Email)
	return creds, nil
}

// ensureLoadedLocked 首次使用或存储失败后从存储加载
func (e *Engine) ensureLoadedLocked() error {
	if e.loaded {
		return nil
	}
	reminders, err := e.store.LoadReminders()
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	for i := range reminders {
		reminders[i].Normalize()
	}
	e.reminders = reminders
	e.loaded = true
	return nil
}

// commitLocked 先持久化再替换内存模型；失败时保留旧模型并在下次使用前重新加载
func (e *Engine) commitLocked(next []domain.Reminder) error {
	if err := e.store.SaveReminders(next); err != nil {
		e.loaded = false
		e.log.Error("failed to save reminders", zap.Error(err))
		return fmt.Errorf("save reminders: %w", err)
	}
	e.reminders = next
	return nil
}

func (e *Engine) finishTick(report TickReport, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	e.metrics.ObserveTick(result, report.Duration)

	e.statusMu.Lock()
	e.status = Status{
		LastTickAt: report.StartedAt,
		LastError:  err,
		LastReport: report,
	}
	e.statusMu.Unlock()
}

func (e *Engine) publishUpdated(count, delivered int, purged []string) {
	e.publisher.Publish(notify.Event{
		Type: notify.EventRemindersUpdated,
		Data: notify.RemindersUpdated{
			Count:     count,
			Delivered: delivered,
			Purged:    purged,
		},
	})
}

func (e *Engine) publishFailures(results []result) {
	for _, res := range results {
		if res.err == nil {
			continue
		}
		e.publisher.Publish(notify.Event{
			Type: notify.EventEmailError,
			Data: notify.EmailError{
				ReminderID:    res.job.reminderID,
				ReminderTitle: res.job.title,
				ScheduledTime: res.job.at,
				Error:         res.err.Error(),
			},
		})
	}
}

func countStates(reminders []domain.Reminder, now time.Time) map[domain.ReminderState]int {
	counts := map[domain.ReminderState]int{
		domain.ReminderStateActive:        0,
		domain.ReminderStatePartiallySent: 0,
		domain.ReminderStateGracePeriod:   0,
		domain.ReminderStateExpired:       0,
	}
	for i := range reminders {
		counts[reminders[i].State(now)]++
	}
	return counts
}

func deliveryResultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failure"
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
