package smtp

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"mime"
	"net"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// SinkMessage 是 Sink 收到的一封邮件
type SinkMessage struct {
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	Raw        []byte    `json:"-"`
	TLS        bool      `json:"tls"` // 邮件是否经由 TLS 连接送达
	ReceivedAt time.Time `json:"receivedAt"`
}

// SinkOptions Sink 的可选参数
type SinkOptions struct {
	Domain      string // EHLO 响应中的域名
	Username    string // 非空时要求 AUTH PLAIN 使用这组凭据
	Password    string
	MaxMessages int // 内存中最多保留的邮件数，默认 100
	// TLSConfig 非空时通告 STARTTLS
	TLSConfig *tls.Config
}

// Sink 只接收、不转发的本地 SMTP 服务器。
//
// 开发时把设置里的 SMTP 主机指向它，提醒邮件会被记录到内存和日志，
// 不会真正发出。它从不中继任何邮件。
type Sink struct {
	opts   SinkOptions
	log    *zap.Logger
	server *gosmtp.Server

	mu       sync.Mutex
	messages []SinkMessage
}

// NewSink 创建本地 SMTP 接收服务器
func NewSink(opts SinkOptions, log *zap.Logger) *Sink {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 100
	}
	if opts.Domain == "" {
		opts.Domain = "localhost"
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Sink{
		opts: opts,
		log:  log.Named("smtp-sink"),
	}

	server := gosmtp.NewServer(s)
	server.Domain = opts.Domain
	server.AllowInsecureAuth = true // 仅监听本地
	server.TLSConfig = opts.TLSConfig
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = 10 << 20
	server.MaxRecipients = 50
	s.server = server

	return s
}

// Serve 在给定监听器上提供服务，直到 Close
func (s *Sink) Serve(ln net.Listener) error {
	s.log.Info("SMTP sink listening", zap.String("addr", ln.Addr().String()))
	err := s.server.Serve(ln)
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe 监听 addr 并提供服务
func (s *Sink) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Close 关闭服务器
func (s *Sink) Close() error {
	return s.server.Close()
}

// Messages 返回收到的邮件快照，按接收顺序
func (s *Sink) Messages() []SinkMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkMessage(nil), s.messages...)
}

func (s *Sink) record(m SinkMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	if len(s.messages) > s.opts.MaxMessages {
		s.messages = s.messages[len(s.messages)-s.opts.MaxMessages:]
	}
	s.mu.Unlock()

	s.log.Info("message received",
		zap.String("from", m.From),
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.Int("bytes", len(m.Raw)),
		zap.Bool("tls", m.TLS),
	)
}

// NewSession 实现 gosmtp.Backend
func (s *Sink) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{sink: s, conn: conn}, nil
}

type session struct {
	sink          *Sink
	conn          *gosmtp.Conn
	authenticated bool
	from          string
	recipients    []string
}

var _ gosmtp.AuthSession = (*session)(nil)

// AuthMechanisms 只提供 PLAIN
func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth 处理 AUTH 命令；未配置凭据时接受任意用户
func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if s.sink.opts.Username != "" &&
			(username != s.sink.opts.Username || password != s.sink.opts.Password) {
			return gosmtp.ErrAuthFailed
		}
		s.authenticated = true
		return nil
	}), nil
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.sink.opts.Username != "" && !s.authenticated {
		return gosmtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令，只校验地址格式
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if _, err := mail.ParseAddress(addr); err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 读取邮件内容并记录
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	subject := ""
	if msg, err := mail.ReadMessage(bytes.NewReader(raw)); err == nil {
		subject = decodeHeader(msg.Header.Get("Subject"))
	}

	// STARTTLS 之后底层连接已替换为 *tls.Conn
	_, overTLS := s.conn.TLSConnectionState()

	s.sink.record(SinkMessage{
		From:       s.from,
		To:         append([]string(nil), s.recipients...),
		Subject:    subject,
		Raw:        raw,
		TLS:        overTLS,
		ReceivedAt: time.Now(),
	})
	return nil
}

// Reset 重置状态
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束
func (s *session) Logout() error {
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
