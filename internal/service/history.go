package service

import (
	"sync"

	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/storage"
)

// HistoryService 收件人地址历史（供界面自动补全）
type HistoryService struct {
	store storage.HistoryStore
	mu    sync.Mutex
}

// NewHistoryService 创建历史服务
func NewHistoryService(store storage.HistoryStore) *HistoryService {
	return &HistoryService{store: store}
}

// List 返回历史地址，从旧到新
func (s *HistoryService) List() ([]string, error) {
	history, err := s.store.LoadHistory()
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []string{}
	}
	return history, nil
}

// Add 记录地址：去空白、转小写、去重，只保留最近 domain.MaxHistorySize 个
func (s *HistoryService) Add(emails ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.store.LoadHistory()
	if err != nil {
		return nil, err
	}

	merged := domain.MergeHistory(history, emails...)
	if err := s.store.SaveHistory(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Clear 清空历史
func (s *HistoryService) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SaveHistory([]string{})
}
