package smtp

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindmail/backend/internal/domain"
)

// ComposedMessage 是编码完成、可直接写入 DATA 的邮件
type ComposedMessage struct {
	MessageID string
	Raw       []byte
}

// Compose 把提醒邮件编码为 multipart/alternative（纯文本 + HTML）。
// 主题按 RFC 2047 编码，Message-ID 使用发件人域名。
func Compose(msg domain.OutgoingMessage, now time.Time) (*ComposedMessage, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = TextToHTML(msg.Text)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), addressDomain(msg.From))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writePart(mw, "text/plain; charset=utf-8", msg.Text); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html; charset=utf-8", htmlBody); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var raw bytes.Buffer
	writeHeader(&raw, "From", msg.From)
	writeHeader(&raw, "To", strings.Join(msg.To, ", "))
	writeHeader(&raw, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&raw, "Date", now.Format(time.RFC1123Z))
	writeHeader(&raw, "Message-ID", messageID)
	writeHeader(&raw, "MIME-Version", "1.0")
	writeHeader(&raw, "Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{
		"boundary": mw.Boundary(),
	}))
	raw.WriteString("\r\n")
	raw.Write(body.Bytes())

	return &ComposedMessage{
		MessageID: messageID,
		Raw:       raw.Bytes(),
	}, nil
}

// TextToHTML 转义文本并把换行转换为 <br>
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}

	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(content)); err != nil {
		return fmt.Errorf("encode %s part: %w", contentType, err)
	}
	return qp.Close()
}

// writeHeader 写入单行头部，去掉值中的换行防止头部注入
func writeHeader(buf *bytes.Buffer, key, value string) {
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// addressDomain 取地址 @ 之后的部分，取不到时使用 localhost
func addressDomain(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		return strings.Trim(addr[at+1:], "<> ")
	}
	return "localhost"
}
