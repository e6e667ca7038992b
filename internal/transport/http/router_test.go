package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"remindmail/backend/internal/config"
	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/middleware"
	"remindmail/backend/internal/monitoring"
	"remindmail/backend/internal/scheduler"
	"remindmail/backend/internal/service"
	"remindmail/backend/internal/storage/memory"
)

// MockMailer 模拟出站邮件客户端
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, creds domain.SMTPSettings, msg domain.OutgoingMessage) (domain.Delivery, error) {
	args := m.Called(ctx, creds, msg)
	return args.Get(0).(domain.Delivery), args.Error(1)
}

func (m *MockMailer) Verify(ctx context.Context, creds domain.SMTPSettings) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

type testServer struct {
	router  *gin.Engine
	store   *memory.Store
	mailer  *MockMailer
	metrics *monitoring.Metrics
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{APIKey: apiKey, MaxBodyBytes: 1 << 20},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	store := memory.NewStore()
	mailer := new(MockMailer)
	metrics := monitoring.NewMetrics()

	engine := scheduler.NewEngine(store, store, mailer, scheduler.Options{GracePeriod: time.Hour},
		scheduler.WithMetrics(metrics))
	history := service.NewHistoryService(store)

	router := NewRouter(RouterDependencies{
		Config:          cfg,
		ReminderService: service.NewReminderService(engine, history, nil),
		SettingsService: service.NewSettingsService(store, mailer, nil, nil),
		HistoryService:  history,
		Metrics:         metrics,
	})
	return &testServer{router: router, store: store, mailer: mailer, metrics: metrics}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func configure(t *testing.T, store *memory.Store) {
	t.Helper()
	require.NoError(t, store.SaveSettings(&domain.Settings{
		Theme: domain.ThemeDark,
		Email: domain.SMTPSettings{
			Email:    "me@example.com",
			Password: "app-password",
			SMTPHost: "smtp.example.com",
			SMTPPort: 587,
		},
	}))
}

func TestReminderRoutes(t *testing.T) {
	s := newTestServer(t, "")
	future := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Minute)

	rec := s.do(http.MethodPost, "/v1/reminders", map[string]any{
		"title":          "  Pay rent ",
		"description":    "Transfer before noon",
		"emails":         []string{"a@x.com", "", "b@y.com"},
		"scheduledTimes": []time.Time{future.Add(time.Hour), future},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created service.ReminderView
	decode(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Pay rent", created.Title)
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, created.Emails)
	assert.Equal(t, domain.ReminderStateActive, created.State)
	require.Len(t, created.ScheduledTimes, 2)
	assert.True(t, created.ScheduledTimes[0].Equal(future))

	rec = s.do(http.MethodGet, "/v1/reminders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list reminderListResponse
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, created.ID, list.Items[0].ID)

	// 创建时记录收件人历史
	rec = s.do(http.MethodGet, "/v1/email-history", nil)
	var hist historyResponse
	decode(t, rec, &hist)
	assert.ElementsMatch(t, []string{"a@x.com", "b@y.com"}, hist.Emails)

	rec = s.do(http.MethodDelete, "/v1/reminders/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/reminders/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MsgReminderNotFound, decode(t, rec, nil).Msg)
}

func TestReminderRoutes_Validation(t *testing.T) {
	s := newTestServer(t, "")
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"缺少标题", map[string]any{"title": " ", "emails": []string{"a@x.com"}, "scheduledTimes": []time.Time{future}}},
		{"缺少收件人", map[string]any{"title": "t", "emails": []string{""}, "scheduledTimes": []time.Time{future}}},
		{"无效邮箱", map[string]any{"title": "t", "emails": []string{"not-an-email"}, "scheduledTimes": []time.Time{future}}},
		{"缺少时间", map[string]any{"title": "t", "emails": []string{"a@x.com"}}},
		{"过去的时间", map[string]any{"title": "t", "emails": []string{"a@x.com"}, "scheduledTimes": []time.Time{time.Now().Add(-time.Hour)}}},
		{"重复时间", map[string]any{"title": "t", "emails": []string{"a@x.com"}, "scheduledTimes": []time.Time{future, future}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/reminders", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	t.Run("请求体不是 JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/reminders", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, MsgInvalidRequest, decode(t, rec, nil).Msg)
	})

	t.Run("Content-Type 不支持", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/reminders", bytes.NewBufferString("title=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	rec := s.do(http.MethodGet, "/v1/reminders", nil)
	var list reminderListResponse
	decode(t, rec, &list)
	assert.Zero(t, list.Count)
}

func TestReminderRoutes_ClearAndCheck(t *testing.T) {
	s := newTestServer(t, "")
	due := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, s.store.SaveReminders([]domain.Reminder{
		{ID: "r-1", Title: "Due", Emails: []string{"a@x.com"}, ScheduledTimes: []time.Time{due}},
		{ID: "r-2", Title: "Later", Emails: []string{"a@x.com"}, ScheduledTimes: []time.Time{due.Add(3 * time.Hour)}},
	}))

	t.Run("未配置邮箱时投递失败但检查成功", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/v1/reminders/check", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report scheduler.TickReport
		decode(t, rec, &report)
		assert.Equal(t, 1, report.Attempted)
		assert.Equal(t, 1, report.Failed)
		s.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("配置后重试待发送时间点", func(t *testing.T) {
		configure(t, s.store)
		s.mailer.On("Send", mock.Anything, mock.Anything, mock.MatchedBy(func(msg domain.OutgoingMessage) bool {
			return msg.Subject == "Due" && msg.From == "me@example.com"
		})).Return(domain.Delivery{MessageID: "<1@example.com>", SentAt: time.Now()}, nil).Once()

		rec := s.do(http.MethodPost, "/v1/reminders/check", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report scheduler.TickReport
		decode(t, rec, &report)
		assert.Equal(t, 1, report.Delivered)
		assert.Equal(t, 1, report.GraceEntered)
		s.mailer.AssertExpectations(t)

		rec = s.do(http.MethodGet, "/v1/reminders", nil)
		var list reminderListResponse
		decode(t, rec, &list)
		require.Equal(t, 2, list.Count)
		states := map[string]domain.ReminderState{}
		for _, item := range list.Items {
			states[item.ID] = item.State
		}
		assert.Equal(t, domain.ReminderStateGracePeriod, states["r-1"])
		assert.Equal(t, domain.ReminderStateActive, states["r-2"])
	})

	t.Run("清空", func(t *testing.T) {
		rec := s.do(http.MethodDelete, "/v1/reminders", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var cleared clearResponse
		decode(t, rec, &cleared)
		assert.Equal(t, 2, cleared.Deleted)

		stored, err := s.store.LoadReminders()
		require.NoError(t, err)
		assert.Empty(t, stored)
	})
}

func TestReminderRoutes_StorageUnavailable(t *testing.T) {
	s := newTestServer(t, "")
	s.store.FailLoads(fmt.Errorf("%w: permission denied", domain.ErrStorageUnavailable))

	rec := s.do(http.MethodGet, "/v1/reminders", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, MsgStorageUnavailable, decode(t, rec, nil).Msg)
}

func TestSettingsRoutes(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(http.MethodGet, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got settingsResponse
	decode(t, rec, &got)
	assert.Equal(t, domain.ThemeAuto, got.Theme)
	assert.Equal(t, domain.DefaultSMTPPort, got.Email.SMTPPort)
	assert.False(t, got.Email.Configured)

	rec = s.do(http.MethodPut, "/v1/settings", map[string]any{
		"theme": "dark",
		"email": map[string]any{
			"email":    "me@example.com",
			"password": "app-password",
			"smtpHost": "smtp.example.com",
			"smtpPort": 465,
			"secure":   true,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "app-password")
	decode(t, rec, &got)
	assert.True(t, got.Email.PasswordSet)
	assert.True(t, got.Email.Configured)

	// 密码留空时保留原密码
	rec = s.do(http.MethodPut, "/v1/settings", map[string]any{
		"theme": "light",
		"email": map[string]any{"email": "me@example.com", "smtpHost": "smtp.example.com", "smtpPort": 465},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := s.store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "app-password", stored.Email.Password)
	assert.Equal(t, domain.ThemeLight, stored.Theme)

	rec = s.do(http.MethodPut, "/v1/settings", map[string]any{"theme": "sepia"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/v1/settings", map[string]any{
		"theme": "auto",
		"email": map[string]any{"smtpPort": 70000},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRoutes_TestEmail(t *testing.T) {
	t.Run("未配置", func(t *testing.T) {
		s := newTestServer(t, "")
		rec := s.do(http.MethodPost, "/v1/settings/test-email", map[string]string{"to": "a@x.com"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, MsgNotConfigured, decode(t, rec, nil).Msg)
		s.mailer.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	})

	t.Run("收件人无效", func(t *testing.T) {
		s := newTestServer(t, "")
		rec := s.do(http.MethodPost, "/v1/settings/test-email", map[string]string{"to": "nope"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("发送成功", func(t *testing.T) {
		s := newTestServer(t, "")
		configure(t, s.store)
		s.mailer.On("Verify", mock.Anything, mock.Anything).Return(nil)
		s.mailer.On("Send", mock.Anything, mock.Anything, mock.MatchedBy(func(msg domain.OutgoingMessage) bool {
			return len(msg.To) == 1 && msg.To[0] == "a@x.com"
		})).Return(domain.Delivery{MessageID: "<t@example.com>"}, nil)

		rec := s.do(http.MethodPost, "/v1/settings/test-email", map[string]string{"to": "a@x.com"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var delivery domain.Delivery
		decode(t, rec, &delivery)
		assert.Equal(t, "<t@example.com>", delivery.MessageID)
	})

	t.Run("SMTP 服务器拒绝", func(t *testing.T) {
		s := newTestServer(t, "")
		configure(t, s.store)
		s.mailer.On("Verify", mock.Anything, mock.Anything).
			Return(fmt.Errorf("%w: authenticate: 535 bad credentials", domain.ErrTransportFailure))

		rec := s.do(http.MethodPost, "/v1/settings/test-email", map[string]string{"to": "a@x.com"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, decode(t, rec, nil).Msg, "535")
	})
}

func TestHistoryRoutes(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(http.MethodPost, "/v1/email-history", map[string]any{"emails": []string{"a@x.com", "b@y.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/v1/email-history", map[string]any{"emails": []string{"a@x.com"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var hist historyResponse
	decode(t, s.do(http.MethodGet, "/v1/email-history", nil), &hist)
	assert.ElementsMatch(t, []string{"a@x.com", "b@y.com"}, hist.Emails)

	rec = s.do(http.MethodPost, "/v1/email-history", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/email-history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, s.do(http.MethodGet, "/v1/email-history", nil), &hist)
	assert.Empty(t, hist.Emails)
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/reminders", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		s.do(http.MethodGet, "/v1/reminders", nil, middleware.APIKeyHeader, "wrong").Code)
	assert.Equal(t, http.StatusOK,
		s.do(http.MethodGet, "/v1/reminders", nil, middleware.APIKeyHeader, "secret").Code)

	// 健康检查与指标不需要认证
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/metrics", nil).Code)
}

func TestRouter_RecordsMetrics(t *testing.T) {
	s := newTestServer(t, "")
	s.do(http.MethodGet, "/v1/reminders", nil)
	s.do(http.MethodGet, "/nope", nil)

	rec := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `remindmail_http_requests_total{endpoint="/v1/reminders",method="GET",status_code="200"} 1`)
	assert.Contains(t, body, `endpoint="unmatched"`)
}
