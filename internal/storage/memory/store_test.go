package memory

import (
	"errors"
	"testing"
	"time"

	"remindmail/backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Reminders(t *testing.T) {
	store := NewStore()

	reminders, err := store.LoadReminders()
	require.NoError(t, err)
	assert.Empty(t, reminders)

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	in := []domain.Reminder{{
		ID:             "r-1",
		Title:          "Pay rent",
		Emails:         []string{"a@x.com"},
		ScheduledTimes: []time.Time{at},
		PendingTimes:   []time.Time{},
		SentTimes:      []time.Time{},
	}}
	require.NoError(t, store.SaveReminders(in))

	// 调用方修改原切片不影响已保存的数据
	in[0].Emails[0] = "changed@x.com"

	loaded, err := store.LoadReminders()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a@x.com", loaded[0].Emails[0])

	// 修改读取结果同样不影响内部状态
	loaded[0].Title = "changed"
	again, err := store.LoadReminders()
	require.NoError(t, err)
	assert.Equal(t, "Pay rent", again[0].Title)
}

func TestMemoryStore_SettingsAndHistory(t *testing.T) {
	store := NewStore()

	settings, err := store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)

	settings.Email.SMTPHost = "smtp.x.com"
	require.NoError(t, store.SaveSettings(settings))
	settings.Email.SMTPHost = "mutated"

	loaded, err := store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "smtp.x.com", loaded.Email.SMTPHost)

	require.NoError(t, store.SaveHistory([]string{"a@x.com"}))
	history, err := store.LoadHistory()
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, history)
}

func TestMemoryStore_InjectedFailures(t *testing.T) {
	store := NewStore()
	boom := errors.New("disk full")

	store.FailSaves(boom)
	assert.ErrorIs(t, store.SaveReminders(nil), boom)
	assert.ErrorIs(t, store.SaveHistory(nil), boom)

	store.FailSaves(nil)
	store.FailLoads(boom)
	_, err := store.LoadReminders()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Health(), boom)

	store.FailLoads(nil)
	assert.NoError(t, store.Health())
}
