package memory

import (
	"sync"

	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 内存存储实现，用于开发模式与测试。
// 读写均做深拷贝，调用方拿到的数据与内部状态互不影响。
type Store struct {
	mu        sync.RWMutex
	reminders []domain.Reminder
	settings  *domain.Settings
	history   []string

	// 注入故障，便于测试存储失败路径
	loadErr error
	saveErr error
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		reminders: []domain.Reminder{},
		history:   []string{},
	}
}

// FailLoads 之后所有读取返回 err；传 nil 恢复
func (s *Store) FailLoads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// FailSaves 之后所有写入返回 err；传 nil 恢复
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// LoadReminders 返回提醒快照
func (s *Store) LoadReminders() ([]domain.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := domain.CloneReminders(s.reminders)
	for i := range out {
		out[i].Normalize()
	}
	return out, nil
}

// SaveReminders 整体替换提醒集合
func (s *Store) SaveReminders(reminders []domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.reminders = domain.CloneReminders(reminders)
	return nil
}

// LoadSettings 未保存过时返回默认设置
func (s *Store) LoadSettings() (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.settings == nil {
		return domain.DefaultSettings(), nil
	}
	c := *s.settings
	return &c, nil
}

// SaveSettings 保存设置
func (s *Store) SaveSettings(settings *domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	c := *settings
	s.settings = &c
	return nil
}

// LoadHistory 返回收件人历史快照
func (s *Store) LoadHistory() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]string{}, s.history...), nil
}

// SaveHistory 保存收件人历史
func (s *Store) SaveHistory(history []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.history = append([]string{}, history...)
	return nil
}

// Health 内存存储在未注入故障时始终可用
func (s *Store) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Close 无需释放资源
func (s *Store) Close() error {
	return nil
}
