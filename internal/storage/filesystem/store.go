package filesystem

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/storage"

	"github.com/google/uuid"
)

// 数据文件名，与桌面版保持一致以便直接沿用旧数据目录
const (
	RemindersFile = "reminders.json"
	SettingsFile  = "settings.json"
	HistoryFile   = "emailHistory.json"
)

var _ storage.Store = (*Store)(nil)

// Store 基于 JSON 文件的存储实现。
//
// 三个文件相互独立，任意一个损坏不影响其它文件的读写。
// 每次保存都先写临时文件，fsync 后 rename 覆盖，保证磁盘上始终是一个完整版本。
type Store struct {
	mu            sync.Mutex
	basePath      string
	platformUtils *PlatformUtils
}

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid data directory: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)

	if err := os.MkdirAll(normalizedPath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Store{
		basePath:      normalizedPath,
		platformUtils: platformUtils,
	}, nil
}

// BasePath 返回数据目录
func (s *Store) BasePath() string {
	return s.basePath
}

// ========== 提醒 ==========

// reminderRecord 磁盘上的提醒记录，兼容旧版本写入的形态：
// 单个 email 字段、数字 id、缺失的集合字段、description 为 null。
type reminderRecord struct {
	ID             flexibleID  `json:"id"`
	Title          string      `json:"title"`
	Description    *string     `json:"description,omitempty"`
	Email          string      `json:"email,omitempty"`
	Emails         []string    `json:"emails"`
	ScheduledTimes []time.Time `json:"scheduledTimes"`
	PendingTimes   []time.Time `json:"pendingTimes"`
	SentTimes      []time.Time `json:"sentTimes"`
	DeletionTime   *time.Time  `json:"deletionTime,omitempty"`
	CreatedAt      *time.Time  `json:"createdAt,omitempty"`
}

// flexibleID 接受字符串或数字形式的 id
type flexibleID string

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = flexibleID(n.String())
	return nil
}

// toDomain 规范化为统一的列表形态，核心逻辑不再关心记录的历史形态
func (r *reminderRecord) toDomain() domain.Reminder {
	emails := append([]string(nil), r.Emails...)
	if len(emails) == 0 && strings.TrimSpace(r.Email) != "" {
		emails = []string{strings.TrimSpace(r.Email)}
	}

	reminder := domain.Reminder{
		ID:             string(r.ID),
		Title:          r.Title,
		Emails:         emails,
		ScheduledTimes: toUTC(r.ScheduledTimes),
		PendingTimes:   toUTC(r.PendingTimes),
		SentTimes:      toUTC(r.SentTimes),
	}
	if r.Description != nil {
		reminder.Description = *r.Description
	}
	if r.DeletionTime != nil {
		d := r.DeletionTime.UTC()
		reminder.DeletionTime = &d
	}
	if r.CreatedAt != nil {
		reminder.CreatedAt = r.CreatedAt.UTC()
	} else if ms, err := strconv.ParseInt(string(r.ID), 10, 64); err == nil && ms > 0 {
		// 旧版本的 id 是创建时刻的毫秒时间戳
		reminder.CreatedAt = time.UnixMilli(ms).UTC()
	}

	if reminder.ID == "" {
		reminder.ID = uuid.NewString()
	}

	reminder.Normalize()
	return reminder
}

func fromDomain(r *domain.Reminder) reminderRecord {
	rec := reminderRecord{
		ID:             flexibleID(r.ID),
		Title:          r.Title,
		Emails:         r.Emails,
		ScheduledTimes: toUTC(r.ScheduledTimes),
		PendingTimes:   toUTC(r.PendingTimes),
		SentTimes:      toUTC(r.SentTimes),
	}
	if rec.Emails == nil {
		rec.Emails = []string{}
	}
	if r.Description != "" {
		desc := r.Description
		rec.Description = &desc
	}
	if r.DeletionTime != nil {
		d := r.DeletionTime.UTC()
		rec.DeletionTime = &d
	}
	if !r.CreatedAt.IsZero() {
		c := r.CreatedAt.UTC()
		rec.CreatedAt = &c
	}
	return rec
}

func toUTC(list []time.Time) []time.Time {
	out := make([]time.Time, len(list))
	for i, t := range list {
		out[i] = t.UTC()
	}
	return out
}

// LoadReminders 读取全部提醒
func (s *Store) LoadReminders() ([]domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []reminderRecord
	found, err := s.readJSON(RemindersFile, &records)
	if err != nil {
		return nil, err
	}
	if !found {
		return []domain.Reminder{}, nil
	}

	reminders := make([]domain.Reminder, 0, len(records))
	for i := range records {
		reminders = append(reminders, records[i].toDomain())
	}
	return reminders, nil
}

// SaveReminders 原子地覆盖全部提醒
func (s *Store) SaveReminders(reminders []domain.Reminder) error {
	records := make([]reminderRecord, len(reminders))
	for i := range reminders {
		records[i] = fromDomain(&reminders[i])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(RemindersFile, records)
}

// ========== 设置 ==========

// LoadSettings 读取设置，缺失字段使用默认值
func (s *Store) LoadSettings() (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := domain.DefaultSettings()
	if _, err := s.readJSON(SettingsFile, settings); err != nil {
		return nil, err
	}
	if settings.Theme == "" {
		settings.Theme = domain.ThemeAuto
	}
	return settings, nil
}

// SaveSettings 保存设置
func (s *Store) SaveSettings(settings *domain.Settings) error {
	if settings == nil {
		return fmt.Errorf("settings is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(SettingsFile, settings)
}

// ========== 收件人历史 ==========

// LoadHistory 读取收件人历史
func (s *Store) LoadHistory() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []string
	if _, err := s.readJSON(HistoryFile, &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = []string{}
	}
	return history, nil
}

// SaveHistory 保存收件人历史
func (s *Store) SaveHistory(history []string) error {
	if history == nil {
		history = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(HistoryFile, history)
}

// ========== 通用 ==========

// Health 检查数据目录是否存在且可写
func (s *Store) Health() error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrStorageUnavailable, s.basePath)
	}

	f, err := os.CreateTemp(s.basePath, ".health-*")
	if err != nil {
		return fmt.Errorf("%w: data directory not writable: %w", domain.ErrStorageUnavailable, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// Close 文件存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// readJSON 读取并解码数据文件；文件不存在时返回 found=false 且不报错
func (s *Store) readJSON(name string, v any) (bool, error) {
	path, err := s.platformUtils.DataFile(s.basePath, name)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: read %s: %w", domain.ErrStorageUnavailable, name, err)
	}

	// 空文件按首次运行处理
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: decode %s: %w", domain.ErrStorageUnavailable, name, err)
	}
	return true, nil
}

// writeJSON 原子写：同目录临时文件 -> fsync -> rename
func (s *Store) writeJSON(name string, v any) error {
	path, err := s.platformUtils.DataFile(s.basePath, name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.basePath, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file for %s: %w", domain.ErrStorageUnavailable, name, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", domain.ErrStorageUnavailable, name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", domain.ErrStorageUnavailable, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrStorageUnavailable, name, err)
	}
	// 设置文件包含 SMTP 密码，只允许当前用户读写
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", domain.ErrStorageUnavailable, name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", domain.ErrStorageUnavailable, name, err)
	}
	committed = true

	syncDir(filepath.Dir(path))
	return nil
}

// syncDir 尽力将 rename 刷到磁盘，部分平台不支持对目录 fsync
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
