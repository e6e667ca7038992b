package httptransport

import (
	"github.com/gin-gonic/gin"

	"remindmail/backend/internal/domain"
)

// emailSettingsResponse 不回传 SMTP 密码
type emailSettingsResponse struct {
	Email       string `json:"email"`
	SMTPHost    string `json:"smtpHost"`
	SMTPPort    int    `json:"smtpPort"`
	Secure      bool   `json:"secure"`
	PasswordSet bool   `json:"passwordSet"`
	Configured  bool   `json:"configured"`
}

type settingsResponse struct {
	Theme domain.Theme          `json:"theme"`
	Email emailSettingsResponse `json:"email"`
}

type testEmailRequest struct {
	To string `json:"to" binding:"required"`
}

func toSettingsResponse(s *domain.Settings) settingsResponse {
	return settingsResponse{
		Theme: s.Theme,
		Email: emailSettingsResponse{
			Email:       s.Email.Email,
			SMTPHost:    s.Email.SMTPHost,
			SMTPPort:    s.Email.SMTPPort,
			Secure:      s.Email.Secure,
			PasswordSet: s.Email.Password != "",
			Configured:  s.Email.Configured(),
		},
	}
}

// getSettings 获取设置
// GET /v1/settings
func (h *Handler) getSettings(c *gin.Context) {
	Success(c, toSettingsResponse(h.settings.Get()))
}

// saveSettings 保存设置；password 为空时保留原密码
// PUT /v1/settings
func (h *Handler) saveSettings(c *gin.Context) {
	var req domain.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	saved, err := h.settings.Save(&req)
	if err != nil {
		respondError(c, err, MsgSettingsSaveFailed)
		return
	}
	SuccessWithMsg(c, "settings saved", toSettingsResponse(saved))
}

// sendTestEmail 用当前设置发送测试邮件
// POST /v1/settings/test-email
func (h *Handler) sendTestEmail(c *gin.Context) {
	var req testEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	delivery, err := h.settings.SendTestEmail(c.Request.Context(), req.To)
	if err != nil {
		respondError(c, err, "")
		return
	}
	SuccessWithMsg(c, "test email sent", delivery)
}
