package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/notify"
	"remindmail/backend/internal/smtp"
	"remindmail/backend/internal/storage"
)

const (
	testEmailSubject = "RemindMail Test Email"
	testEmailBody    = "This is a test email from RemindMail. If you received this, your email configuration is working correctly!"
)

// Mailer 发送测试邮件所需的能力
type Mailer interface {
	smtp.Sender
	smtp.Verifier
}

// SettingsService 设置服务
type SettingsService struct {
	store     storage.SettingsStore
	mailer    Mailer
	publisher notify.Publisher
	validator *domain.EmailValidator
	log       *zap.Logger
	mu        sync.Mutex
}

// NewSettingsService 创建设置服务
func NewSettingsService(store storage.SettingsStore, mailer Mailer, publisher notify.Publisher, log *zap.Logger) *SettingsService {
	if publisher == nil {
		publisher = notify.Nop
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SettingsService{
		store:     store,
		mailer:    mailer,
		publisher: publisher,
		validator: domain.NewEmailValidator(),
		log:       log.Named("settings"),
	}
}

// Get 获取设置；文件缺失或不可读时返回默认设置并记录日志
func (s *SettingsService) Get() *domain.Settings {
	settings, err := s.store.LoadSettings()
	if err != nil {
		s.log.Error("failed to load settings, using defaults", zap.Error(err))
		return domain.DefaultSettings()
	}
	return settings
}

// Save 校验并保存设置。
// SMTP 密码为空时保留已保存的密码，客户端无需回传密码即可修改其它字段。
func (s *SettingsService) Save(settings *domain.Settings) (*domain.Settings, error) {
	if settings == nil {
		return nil, ErrSettingsRequired
	}

	next := *settings
	if next.Theme == "" {
		next.Theme = domain.ThemeAuto
	}
	next.Email.Email = strings.TrimSpace(next.Email.Email)
	next.Email.SMTPHost = strings.TrimSpace(next.Email.SMTPHost)
	if next.Email.SMTPPort == 0 {
		next.Email.SMTPPort = domain.DefaultSMTPPort
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	if next.Email.Email != "" {
		if err := s.validator.ValidateEmail(next.Email.Email); err != nil {
			return nil, &ValidationError{Field: "email", Value: next.Email.Email, Err: domain.ErrInvalidEmail}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 读不到已保存的密码时拒绝保存，否则会用空密码覆盖
	if next.Email.Password == "" {
		current, err := s.store.LoadSettings()
		if err != nil {
			s.log.Error("failed to load stored password, settings not saved", zap.Error(err))
			return nil, fmt.Errorf("load stored settings: %w", err)
		}
		next.Email.Password = current.Email.Password
	}

	if err := s.store.SaveSettings(&next); err != nil {
		return nil, err
	}

	s.log.Info("settings saved",
		zap.String("theme", string(next.Theme)),
		zap.String("smtpHost", next.Email.SMTPHost),
		zap.Int("smtpPort", next.Email.SMTPPort),
		zap.Bool("secure", next.Email.Secure))
	return &next, nil
}

// SendTestEmail 用当前设置发送一封测试邮件，不重试。
// 先校验连接与认证，再发送；失败时同时发布 test_email.failed 事件。
func (s *SettingsService) SendTestEmail(ctx context.Context, to string) (domain.Delivery, error) {
	to = strings.TrimSpace(to)
	if err := s.validator.ValidateEmail(to); err != nil {
		return domain.Delivery{}, &ValidationError{Field: "to", Value: to, Err: domain.ErrInvalidEmail}
	}

	delivery, err := s.sendTestEmail(ctx, to)
	if err != nil {
		s.log.Warn("test email failed", zap.String("to", to), zap.Error(err))
		s.publisher.Publish(notify.Event{
			Type: notify.EventTestEmailFailed,
			Data: notify.TestEmailFailed{To: to, Error: err.Error()},
		})
		return domain.Delivery{}, err
	}

	s.log.Info("test email sent", zap.String("to", to), zap.String("messageId", delivery.MessageID))
	return delivery, nil
}

func (s *SettingsService) sendTestEmail(ctx context.Context, to string) (domain.Delivery, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("%w: %w", domain.ErrNotConfigured, err)
	}
	creds := settings.Email
	if !creds.Configured() {
		return domain.Delivery{}, domain.ErrNotConfigured
	}

	if err := s.mailer.Verify(ctx, creds); err != nil {
		return domain.Delivery{}, err
	}

	return s.mailer.Send(ctx, creds, domain.OutgoingMessage{
		From:    strings.TrimSpace(creds.Email),
		To:      []string{to},
		Subject: testEmailSubject,
		Text:    testEmailBody,
	})
}
