package domain

import "strings"

// Theme 界面主题偏好（仅存储，不参与调度）
type Theme string

const (
	ThemeAuto  Theme = "auto"
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// DefaultSMTPPort 未配置时使用的提交端口
const DefaultSMTPPort = 587

// SMTPSettings 发件账户与 SMTP 服务器配置
type SMTPSettings struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	SMTPHost string `json:"smtpHost"`
	SMTPPort int    `json:"smtpPort"`
	Secure   bool   `json:"secure"`
}

// Configured 判断发件所需字段是否齐全
func (s SMTPSettings) Configured() bool {
	return strings.TrimSpace(s.Email) != "" &&
		strings.TrimSpace(s.Password) != "" &&
		strings.TrimSpace(s.SMTPHost) != "" &&
		s.SMTPPort > 0
}

// Settings 进程级单例设置
type Settings struct {
	Theme Theme        `json:"theme"`
	Email SMTPSettings `json:"email"`
}

// DefaultSettings 返回首次启动时的默认设置
func DefaultSettings() *Settings {
	return &Settings{
		Theme: ThemeAuto,
		Email: SMTPSettings{
			SMTPPort: DefaultSMTPPort,
		},
	}
}

// Validate 校验设置
func (s *Settings) Validate() error {
	switch s.Theme {
	case ThemeAuto, ThemeLight, ThemeDark:
	default:
		return ErrInvalidTheme
	}
	if s.Email.SMTPPort < 1 || s.Email.SMTPPort > 65535 {
		return ErrInvalidPort
	}
	return nil
}
