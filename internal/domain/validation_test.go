package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected bool
	}{
		{"Valid email", "test@example.com", true},
		{"Valid short local part", "a@x.com", true},
		{"Valid email with subdomain", "user@mail.example.com", true},
		{"Valid email with numbers", "user123@example.com", true},
		{"Valid email with dots", "user.name@example.com", true},
		{"Valid email with plus", "user+tag@example.com", true},
		{"Invalid email - no @", "testexample.com", false},
		{"Invalid email - no domain", "test@", false},
		{"Invalid email - no local part", "@example.com", false},
		{"Invalid email - multiple @", "test@@example.com", false},
		{"Invalid email - empty", "", false},
		{"Invalid email - spaces", "test @example.com", false},
		{"Invalid email - display name", "Test <test@example.com>", false},
		{"Invalid email - bare host", "test@localhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateEmail(tt.email)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEmailValidator_Errors(t *testing.T) {
	v := NewEmailValidator()

	long := make([]byte, MaxLocalPartLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, v.ValidateEmail(string(long)+"@example.com"), ErrLocalPartTooLong)
	assert.ErrorIs(t, v.ValidateDomain(""), ErrInvalidDomain)
	assert.ErrorIs(t, v.ValidateLocalPart(""), ErrInvalidLocalPart)
}

func TestMergeHistory(t *testing.T) {
	t.Run("规范化并去重", func(t *testing.T) {
		got := MergeHistory([]string{"a@x.com"}, " A@X.com ", "B@y.com", "", "b@y.com")
		assert.Equal(t, []string{"a@x.com", "b@y.com"}, got)
	})

	t.Run("只保留最近 50 个", func(t *testing.T) {
		var history []string
		for i := 0; i < MaxHistorySize; i++ {
			history = append(history, fmt.Sprintf("user%d@example.com", i))
		}
		got := MergeHistory(history, "new@example.com")
		require.Len(t, got, MaxHistorySize)
		assert.Equal(t, "user1@example.com", got[0])
		assert.Equal(t, "new@example.com", got[MaxHistorySize-1])
	})
}

func TestReminder_State(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	r := Reminder{Title: "t", ScheduledTimes: []time.Time{future}}
	assert.Equal(t, ReminderStateActive, r.State(now))

	r.SentTimes = []time.Time{past}
	assert.Equal(t, ReminderStatePartiallySent, r.State(now))

	r.DeletionTime = &future
	assert.Equal(t, ReminderStateGracePeriod, r.State(now))

	r.DeletionTime = &past
	assert.Equal(t, ReminderStateExpired, r.State(now))
}

func TestReminder_NormalizeClearsDeletionTimeWithUnsentTimes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	deletion := now.Add(-time.Second)

	pending := Reminder{PendingTimes: []time.Time{now.Add(-time.Hour)}, DeletionTime: &deletion}
	pending.Normalize()
	assert.Nil(t, pending.DeletionTime)

	scheduled := Reminder{ScheduledTimes: []time.Time{now.Add(time.Hour)}, DeletionTime: &deletion}
	scheduled.Normalize()
	assert.Nil(t, scheduled.DeletionTime)

	sent := now.Add(-time.Hour)
	done := Reminder{
		ScheduledTimes: []time.Time{sent},
		PendingTimes:   []time.Time{sent},
		SentTimes:      []time.Time{sent},
		DeletionTime:   &deletion,
	}
	done.Normalize()
	require.NotNil(t, done.DeletionTime, "已全部发送的提醒保留删除时间")
	assert.False(t, done.HasUnsent())
}

func TestReminder_BodyFallsBackToTitle(t *testing.T) {
	r := Reminder{Title: "Pay rent"}
	assert.Equal(t, "Pay rent", r.Body())

	r.Description = "Transfer to landlord"
	assert.Equal(t, "Transfer to landlord", r.Body())
}

func TestReminder_NormalizeAndClone(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	t1Other := t1.In(time.FixedZone("CET", 3600))
	t2 := t1.Add(time.Hour)

	r := Reminder{
		ScheduledTimes: []time.Time{t2, t2},
		PendingTimes:   []time.Time{t1, t2},
		SentTimes:      []time.Time{t1, t1Other},
	}
	r.Normalize()

	assert.NotNil(t, r.Emails)
	assert.Len(t, r.ScheduledTimes, 1)
	assert.Len(t, r.SentTimes, 1, "同一时刻的不同时区表示视为同一元素")
	require.Len(t, r.PendingTimes, 1)
	assert.True(t, r.PendingTimes[0].Equal(t2))

	c := r.Clone()
	c.SentTimes[0] = t2
	assert.True(t, r.SentTimes[0].Equal(t1), "克隆不应共享底层数组")
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	testCases := []struct {
		port     int
		expected error
	}{
		{1, nil},
		{25, nil},
		{65535, nil},
		{0, ErrInvalidPort},
		{-1, ErrInvalidPort},
		{65536, ErrInvalidPort},
	}

	for _, tc := range testCases {
		s := DefaultSettings()
		s.Email.SMTPPort = tc.port
		if tc.expected == nil {
			assert.NoError(t, s.Validate(), "port %d", tc.port)
		} else {
			assert.ErrorIs(t, s.Validate(), tc.expected, "port %d", tc.port)
		}
	}

	s := DefaultSettings()
	s.Theme = "neon"
	assert.ErrorIs(t, s.Validate(), ErrInvalidTheme)
}
