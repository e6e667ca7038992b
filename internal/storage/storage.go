package storage

import (
	"remindmail/backend/internal/domain"
)

// ReminderStore 定义提醒集合的持久化操作。
//
// 整个集合作为一个单元读写：SaveReminders 必须是原子的，
// 失败时磁盘上保留上一个完整版本。
type ReminderStore interface {
	// LoadReminders 读取全部提醒；文件不存在时返回空集合。
	// 文件不可读或已损坏时返回包装了 domain.ErrStorageUnavailable 的错误。
	LoadReminders() ([]domain.Reminder, error)
	SaveReminders(reminders []domain.Reminder) error
}

// SettingsStore 定义设置的持久化操作。
type SettingsStore interface {
	// LoadSettings 文件不存在时返回 domain.DefaultSettings()
	LoadSettings() (*domain.Settings, error)
	SaveSettings(settings *domain.Settings) error
}

// HistoryStore 定义收件人历史的持久化操作。
type HistoryStore interface {
	LoadHistory() ([]string, error)
	SaveHistory(history []string) error
}

// Store 聚合全部存储能力。
type Store interface {
	ReminderStore
	SettingsStore
	HistoryStore

	// Health 检查底层存储是否可用
	Health() error
	Close() error
}
