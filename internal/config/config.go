package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host            string        // 监听地址，默认 "127.0.0.1"（个人使用，不对外暴露）
	Port            int           // 监听端口，默认 8080
	APIKey          string        // 非空时 /v1 下的接口要求 X-API-Key 头
	ShutdownTimeout time.Duration // 优雅关闭的最长等待时间，默认 10s
	MaxBodyBytes    int64         // 请求体大小上限，默认 1MB
}

// Addr 返回 host:port 形式的监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig 定义存储后端配置
type StorageConfig struct {
	Type    string // "filesystem"（默认）或 "memory"
	DataDir string // filesystem 模式下的数据目录，默认 "./data"
}

// SchedulerConfig 定义提醒调度器的配置
type SchedulerConfig struct {
	Interval           time.Duration // 轮询间隔，默认 10s
	WarmupDelay        time.Duration // 启动后第一次检查的延迟，默认 5s
	GracePeriod        time.Duration // 全部发送后到自动删除的宽限期，默认 24h
	MaxConcurrentSends int           // 单次检查内并发投递数上限，默认 4
	SendRate           float64       // 每秒最多发起的投递数，0 表示不限速
	SendBurst          int           // 限速桶容量，默认 1
}

// MailerConfig 定义 SMTP 出站连接配置
type MailerConfig struct {
	ConnectTimeout        time.Duration // 建立 TCP 连接超时，默认 15s
	GreetingTimeout       time.Duration // 问候、TLS 握手与认证超时，默认 10s
	SocketTimeout         time.Duration // 邮件传输阶段超时，默认 20s
	LocalName             string        // EHLO 使用的主机名，默认 "localhost"
	TLSInsecureSkipVerify bool          // 跳过服务器证书校验（仅用于自签名的内网服务器）
	SinkAddr              string        // 非空时在该地址启动本地收信 SMTP（仅开发调试，不转发）
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色控制台输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到标准输出
	MaxSize     int    // 单个日志文件最大 MB
	MaxBackups  int    // 保留的旧日志文件数
	MaxAge      int    // 旧日志保留天数
}

// RedisConfig 定义 Redis 事件桥接配置
type RedisConfig struct {
	Enabled  bool   // 是否把通知事件转发到 Redis Pub/Sub
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Channel  string // 发布频道，默认 "remindmail:events"
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
	Mailer    MailerConfig
	CORS      CORSConfig
	Log       LogConfig
	Redis     RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: REMINDMAIL_
// 例如: REMINDMAIL_SERVER_PORT, REMINDMAIL_SCHEDULER_INTERVAL
func Load() (*Config, error) {
	// .env 文件是可选的
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("remindmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	durations := map[string]*time.Duration{}
	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			APIKey:       v.GetString("server.api_key"),
			MaxBodyBytes: v.GetInt64("server.max_body_bytes"),
		},
		Storage: StorageConfig{
			Type:    strings.ToLower(strings.TrimSpace(v.GetString("storage.type"))),
			DataDir: v.GetString("storage.data_dir"),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentSends: v.GetInt("scheduler.max_concurrent_sends"),
			SendRate:           v.GetFloat64("scheduler.send_rate"),
			SendBurst:          v.GetInt("scheduler.send_burst"),
		},
		Mailer: MailerConfig{
			LocalName:             v.GetString("mailer.local_name"),
			TLSInsecureSkipVerify: v.GetBool("mailer.tls_insecure_skip_verify"),
			SinkAddr:              strings.TrimSpace(v.GetString("mailer.sink_addr")),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(v.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
	}

	durations["server.shutdown_timeout"] = &cfg.Server.ShutdownTimeout
	durations["scheduler.interval"] = &cfg.Scheduler.Interval
	durations["scheduler.warmup_delay"] = &cfg.Scheduler.WarmupDelay
	durations["scheduler.grace_period"] = &cfg.Scheduler.GracePeriod
	durations["mailer.connect_timeout"] = &cfg.Mailer.ConnectTimeout
	durations["mailer.greeting_timeout"] = &cfg.Mailer.GreetingTimeout
	durations["mailer.socket_timeout"] = &cfg.Mailer.SocketTimeout

	for key, dst := range durations {
		d, err := parseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Storage.Type {
	case "filesystem":
		if strings.TrimSpace(c.Storage.DataDir) == "" {
			return fmt.Errorf("storage.data_dir must not be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.type must be filesystem or memory, got %q", c.Storage.Type)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.WarmupDelay < 0 {
		return fmt.Errorf("scheduler.warmup_delay must not be negative")
	}
	if c.Scheduler.GracePeriod <= 0 {
		return fmt.Errorf("scheduler.grace_period must be positive")
	}
	if c.Scheduler.MaxConcurrentSends <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_sends must be positive")
	}
	if c.Scheduler.SendRate < 0 {
		return fmt.Errorf("scheduler.send_rate must not be negative")
	}
	if c.Scheduler.SendBurst <= 0 {
		c.Scheduler.SendBurst = 1
	}

	if c.Mailer.ConnectTimeout <= 0 || c.Mailer.GreetingTimeout <= 0 || c.Mailer.SocketTimeout <= 0 {
		return fmt.Errorf("mailer timeouts must be positive")
	}

	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Address) == "" {
		return fmt.Errorf("redis.address must not be empty when redis.enabled is true")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("storage.type", "filesystem")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("scheduler.interval", "10s")
	v.SetDefault("scheduler.warmup_delay", "5s")
	v.SetDefault("scheduler.grace_period", "24h")
	v.SetDefault("scheduler.max_concurrent_sends", 4)
	v.SetDefault("scheduler.send_rate", 5)
	v.SetDefault("scheduler.send_burst", 1)
	v.SetDefault("mailer.connect_timeout", "15s")
	v.SetDefault("mailer.greeting_timeout", "10s")
	v.SetDefault("mailer.socket_timeout", "20s")
	v.SetDefault("mailer.local_name", "localhost")
	v.SetDefault("mailer.tls_insecure_skip_verify", false)
	v.SetDefault("mailer.sink_addr", "")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "remindmail:events")
}

// parseDuration 在 time.ParseDuration 的基础上支持 "d" 天单位，如 "1d"
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "d") {
		var days int
		if _, err := fmt.Sscanf(value, "%dd", &days); err == nil && fmt.Sprintf("%dd", days) == value {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(value)
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（从子目录运行时）
//
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
