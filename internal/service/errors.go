package service

import (
	"errors"
	"fmt"
)

// ErrSettingsRequired 请求体中缺少设置
var ErrSettingsRequired = errors.New("settings are required")

// ValidationError 带字段信息的校验错误，Err 为 domain 中的校验错误
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
