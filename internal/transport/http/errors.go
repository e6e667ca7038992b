package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/service"
)

// 通用错误消息
const (
	MsgInvalidRequest      = "invalid request body"
	MsgReminderNotFound    = "reminder not found"
	MsgReminderExists      = "reminder already exists"
	MsgNotConfigured       = "email is not configured, fill in email, password, SMTP host and port in settings"
	MsgStorageUnavailable  = "storage is unavailable, previous data was kept"
	MsgInternalError       = "internal server error, please try again later"
	MsgReminderListFailed  = "failed to load reminders"
	MsgHistoryFailed       = "failed to access email history"
	MsgSettingsSaveFailed  = "failed to save settings"
	MsgReminderCheckFailed = "reminder check failed"
)

// validationErrors 映射为 400 的校验错误
var validationErrors = []error{
	domain.ErrTitleRequired,
	domain.ErrRecipientsRequired,
	domain.ErrInvalidEmail,
	domain.ErrTimesRequired,
	domain.ErrTimeInPast,
	domain.ErrDuplicateTime,
	domain.ErrInvalidTheme,
	domain.ErrInvalidPort,
	service.ErrSettingsRequired,
}

// StatusFor 错误分类到 HTTP 状态码
func StatusFor(err error) int {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}

	switch {
	case errors.Is(err, domain.ErrReminderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrReminderExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotConfigured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransportFailure):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetErrorMessage 获取返回给客户端的错误消息；未分类的错误使用 fallback
func GetErrorMessage(err error, fallback string) string {
	switch StatusFor(err) {
	case http.StatusBadRequest, http.StatusBadGateway:
		return err.Error()
	case http.StatusNotFound:
		return MsgReminderNotFound
	case http.StatusConflict:
		return MsgReminderExists
	case http.StatusUnprocessableEntity:
		return MsgNotConfigured
	case http.StatusServiceUnavailable:
		return MsgStorageUnavailable
	default:
		if fallback == "" {
			return MsgInternalError
		}
		return fallback
	}
}

// respondError 记录错误并按分类返回
func respondError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)
	Error(c, StatusFor(err), GetErrorMessage(err, fallback))
}
