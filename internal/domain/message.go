package domain

import "time"

// OutgoingMessage 表示一次待投递的提醒邮件。
type OutgoingMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
}

// Delivery 表示一次成功投递的回执。
type Delivery struct {
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
}

// NewReminderMessage 根据提醒构建邮件：主题为标题，正文为描述（为空时回退到标题）。
func NewReminderMessage(from string, r *Reminder) OutgoingMessage {
	return OutgoingMessage{
		From:    from,
		To:      append([]string(nil), r.Emails...),
		Subject: r.Title,
		Text:    r.Body(),
	}
}
