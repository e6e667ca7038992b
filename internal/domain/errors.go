package domain

import "errors"

// 调度与投递相关的错误分类
var (
	// ErrNotConfigured SMTP 凭据不完整，不会发起任何网络请求
	ErrNotConfigured = errors.New("email not configured: fill email, password, SMTP host and port in settings")
	// ErrTransportFailure 连接、握手、认证或超时等传输层失败
	ErrTransportFailure = errors.New("mail transport failure")
	// ErrStorageUnavailable 存储不可读、已损坏或不可写
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrReminderNotFound 提醒不存在
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrReminderExists 指定的 id 已被占用
	ErrReminderExists = errors.New("reminder already exists")
)

// 提醒与设置的校验错误
var (
	ErrTitleRequired      = errors.New("title is required")
	ErrRecipientsRequired = errors.New("at least one recipient email is required")
	ErrTimesRequired      = errors.New("at least one scheduled time is required")
	ErrTimeInPast         = errors.New("scheduled time must be in the future")
	ErrDuplicateTime      = errors.New("scheduled times must be distinct")
	ErrInvalidTheme       = errors.New("theme must be one of auto, light, dark")
	ErrInvalidPort        = errors.New("SMTP port must be between 1 and 65535")
)
