package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"remindmail/backend/internal/config"
	"remindmail/backend/internal/domain"
)

// Sender 投递一封邮件。每次调用只做一次传输尝试，不在内部重试；
// 失败时返回包装了 domain.ErrNotConfigured 或 domain.ErrTransportFailure 的错误。
type Sender interface {
	Send(ctx context.Context, creds domain.SMTPSettings, msg domain.OutgoingMessage) (domain.Delivery, error)
}

// Verifier 仅校验连接、握手与认证，不发送邮件
type Verifier interface {
	Verify(ctx context.Context, creds domain.SMTPSettings) error
}

// Options 出站连接参数
type Options struct {
	ConnectTimeout        time.Duration
	GreetingTimeout       time.Duration
	SocketTimeout         time.Duration
	LocalName             string
	TLSInsecureSkipVerify bool
}

// OptionsFromConfig 由配置构建连接参数
func OptionsFromConfig(cfg config.MailerConfig) Options {
	return Options{
		ConnectTimeout:        cfg.ConnectTimeout,
		GreetingTimeout:       cfg.GreetingTimeout,
		SocketTimeout:         cfg.SocketTimeout,
		LocalName:             cfg.LocalName,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
}

// DefaultOptions 返回默认连接参数：连接 15s、握手 10s、传输 20s
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  15 * time.Second,
		GreetingTimeout: 10 * time.Second,
		SocketTimeout:   20 * time.Second,
		LocalName:       "localhost",
	}
}

// Security 连接的加密方式
type Security int

const (
	// SecurityImplicitTLS 连接建立后立即 TLS 握手（465 端口）
	SecurityImplicitTLS Security = iota
	// SecurityStartTLSRequired 明文连接后必须升级为 TLS（587 端口）
	SecurityStartTLSRequired
	// SecurityStartTLSOpportunistic 服务器支持时升级，不支持时保持明文
	SecurityStartTLSOpportunistic
)

func (s Security) String() string {
	switch s {
	case SecurityImplicitTLS:
		return "implicit_tls"
	case SecurityStartTLSRequired:
		return "starttls_required"
	default:
		return "starttls_opportunistic"
	}
}

// SecurityFor 端口策略：465 隐式 TLS，587 强制 STARTTLS，其它端口由 secure 标志决定
func SecurityFor(port int, secure bool) Security {
	switch {
	case port == 465:
		return SecurityImplicitTLS
	case port == 587:
		return SecurityStartTLSRequired
	case secure:
		return SecurityImplicitTLS
	default:
		return SecurityStartTLSOpportunistic
	}
}

var (
	_ Sender   = (*Client)(nil)
	_ Verifier = (*Client)(nil)
)

// Client 基于 go-smtp 的出站客户端，每次投递使用独立连接
type Client struct {
	opts     Options
	log      *zap.Logger
	now      func() time.Time
	security func(port int, secure bool) Security
}

// NewClient 创建出站客户端
func NewClient(opts Options, log *zap.Logger) *Client {
	defaults := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.GreetingTimeout <= 0 {
		opts.GreetingTimeout = defaults.GreetingTimeout
	}
	if opts.SocketTimeout <= 0 {
		opts.SocketTimeout = defaults.SocketTimeout
	}
	if opts.LocalName == "" {
		opts.LocalName = defaults.LocalName
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		opts:     opts,
		log:      log.Named("mailer"),
		now:      time.Now,
		security: SecurityFor,
	}
}

// Send 投递一封邮件
func (c *Client) Send(ctx context.Context, creds domain.SMTPSettings, msg domain.OutgoingMessage) (domain.Delivery, error) {
	if !creds.Configured() {
		return domain.Delivery{}, domain.ErrNotConfigured
	}
	if msg.From == "" {
		msg.From = strings.TrimSpace(creds.Email)
	}

	composed, err := Compose(msg, c.now())
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("compose message: %w", err)
	}

	err = c.withSession(ctx, creds, func(client *gosmtp.Client) error {
		if err := client.Mail(msg.From, nil); err != nil {
			return transportError("MAIL FROM", err)
		}
		for _, rcpt := range msg.To {
			if err := client.Rcpt(rcpt, nil); err != nil {
				return transportError("RCPT TO <"+rcpt+">", err)
			}
		}

		w, err := client.Data()
		if err != nil {
			return transportError("DATA", err)
		}
		if _, err := w.Write(composed.Raw); err != nil {
			_ = w.Close()
			return transportError("write message", err)
		}
		if err := w.Close(); err != nil {
			return transportError("finish DATA", err)
		}
		return nil
	})
	if err != nil {
		return domain.Delivery{}, err
	}

	c.log.Debug("message delivered",
		zap.String("messageId", composed.MessageID),
		zap.String("host", creds.SMTPHost),
		zap.Int("recipients", len(msg.To)),
	)

	return domain.Delivery{
		MessageID: composed.MessageID,
		SentAt:    c.now(),
	}, nil
}

// Verify 连接、握手、认证后退出，用于测试邮件前的配置校验
func (c *Client) Verify(ctx context.Context, creds domain.SMTPSettings) error {
	if !creds.Configured() {
		return domain.ErrNotConfigured
	}
	return c.withSession(ctx, creds, func(*gosmtp.Client) error { return nil })
}

// withSession 建立连接、完成握手和认证后执行 fn，最后发送 QUIT
func (c *Client) withSession(ctx context.Context, creds domain.SMTPSettings, fn func(*gosmtp.Client) error) error {
	host := strings.TrimSpace(creds.SMTPHost)
	addr := net.JoinHostPort(host, strconv.Itoa(creds.SMTPPort))
	mode := c.security(creds.SMTPPort, creds.Secure)
	tlsConfig := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.opts.TLSInsecureSkipVerify,
	}

	// 整个会话的上限，防止单次投递无限挂起
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout+c.opts.GreetingTimeout+c.opts.SocketTimeout)
	defer cancel()

	client, release, err := c.open(ctx, addr, tlsConfig, mode)
	if err != nil {
		return err
	}

	// 机会性加密：服务器通告 STARTTLS 时重新连接并升级，否则保持明文
	if mode == SecurityStartTLSOpportunistic {
		if ok, _ := client.Extension("STARTTLS"); ok {
			_ = client.Quit()
			release()
			client, release, err = c.open(ctx, addr, tlsConfig, SecurityStartTLSRequired)
			if err != nil {
				return err
			}
		}
	}
	defer release()

	if err := c.authenticate(client, creds); err != nil {
		return err
	}

	if err := fn(client); err != nil {
		return err
	}

	// 邮件已被接受，QUIT 失败不影响结果
	if err := client.Quit(); err != nil {
		c.log.Debug("QUIT failed", zap.String("host", host), zap.Error(err))
	}
	return nil
}

// open 建立连接并完成问候与 EHLO；mode 决定隐式 TLS、STARTTLS 或明文。
// 返回的 release 断开连接。
func (c *Client) open(ctx context.Context, addr string, tlsConfig *tls.Config, mode Security) (*gosmtp.Client, func(), error) {
	dialCtx, dialCancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	dialCancel()
	if err != nil {
		return nil, nil, transportError("connect to "+addr, err)
	}

	// ctx 结束时立即断开，阻塞中的读写随之返回
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	// 问候、TLS 握手与 EHLO 单独限时
	greetCtx, greetCancel := context.WithTimeout(ctx, c.opts.GreetingTimeout)
	stopGreet := context.AfterFunc(greetCtx, func() { _ = conn.Close() })
	client, err := c.handshake(greetCtx, conn, addr, tlsConfig, mode)
	if !stopGreet() && err == nil {
		_ = client.Close()
		err = transportError("greeting with "+addr, greetCtx.Err())
	}
	greetCancel()
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, nil, err
	}

	client.CommandTimeout = c.opts.GreetingTimeout
	client.SubmissionTimeout = c.opts.SocketTimeout

	release := func() {
		stop()
		_ = client.Close()
	}
	return client, release, nil
}

func (c *Client) handshake(ctx context.Context, conn net.Conn, addr string, tlsConfig *tls.Config, mode Security) (*gosmtp.Client, error) {
	var client *gosmtp.Client
	switch mode {
	case SecurityImplicitTLS:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, transportError("TLS handshake with "+addr, err)
		}
		client = gosmtp.NewClient(tlsConn)
	case SecurityStartTLSRequired:
		// 服务器未通告 STARTTLS 时失败，不会回退到明文
		var err error
		client, err = gosmtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, transportError("STARTTLS with "+addr, err)
		}
	default:
		client = gosmtp.NewClient(conn)
	}

	// STARTTLS 之后需要重新 EHLO，此时用配置的主机名
	if err := client.Hello(c.opts.LocalName); err != nil {
		_ = client.Close()
		return nil, transportError("EHLO", err)
	}
	return client, nil
}

// authenticate 优先使用 PLAIN，服务器只支持 LOGIN 时回退；服务器不要求认证时跳过
func (c *Client) authenticate(client *gosmtp.Client, creds domain.SMTPSettings) error {
	ok, params := client.Extension("AUTH")
	if !ok {
		c.log.Debug("server does not advertise AUTH, skipping authentication", zap.String("host", creds.SMTPHost))
		return nil
	}

	username := strings.TrimSpace(creds.Email)
	mechanisms := strings.Fields(strings.ToUpper(params))

	var auth sasl.Client
	if !containsString(mechanisms, sasl.Plain) && containsString(mechanisms, sasl.Login) {
		auth = sasl.NewLoginClient(username, creds.Password)
	} else {
		auth = sasl.NewPlainClient("", username, creds.Password)
	}

	if err := client.Auth(auth); err != nil {
		return transportError("authenticate", err)
	}
	return nil
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrTransportFailure, op, err)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
