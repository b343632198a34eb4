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
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// IMAPConfig 定义信箱轮询源的配置
type IMAPConfig struct {
	Enabled      bool          // 是否启用 IMAP 轮询
	Host         string        // IMAP 服务器地址，默认 "imap.gmail.com"
	Port         int           // IMAP 端口，默认 993
	Username     string        // 登录用户名
	Password     string        // 应用专用密码
	Mailbox      string        // 轮询的邮箱目录，默认 "INBOX"
	TLS          bool          // 是否使用隐式 TLS
	PollInterval time.Duration // 摄取轮询间隔，默认 1 分钟
}

// SMTPConfig 定义可选的 SMTP 直收源配置
type SMTPConfig struct {
	Enabled  bool   // 是否启用直接 SMTP 接收（替代 IMAP 轮询）
	BindAddr string // 监听地址，默认 ":25"
	Domain   string // HELO/EHLO 域名
}

// MailConfig 定义别名与邮件处理的业务配置
type MailConfig struct {
	Domain        string // 别名地址的域名，如 example.com
	AliasLength   int    // 别名标识长度，默认 8
	MaxBodyChars  int    // 提取正文的长度上限，默认 15000
	ExcerptChars  int    // 摘要兜底截取长度，默认 1000
	DeliveryTries int    // 通知发送最大尝试次数，默认 3
	Workers       int    // 投递工作协程数，默认 4
}

// BlobConfig 定义原始邮件 blob 存储配置
type BlobConfig struct {
	Path string // 文件系统存储根目录，默认 "./data/raw-mail"
}

// RetrievalConfig 定义原始邮件取回端点配置
type RetrievalConfig struct {
	PublicBaseURL string        // 公开访问地址；为空则通知里不带取回链接
	SignSecret    string        // 签名下载链接的密钥，启用时必须 ≥32 字符
	SignTTL       time.Duration // 签名链接有效期，默认 15 分钟
}

// TelegramConfig 定义聊天传输配置
type TelegramConfig struct {
	Token   string // Bot token
	APIBase string // Bot API 地址，默认 https://api.telegram.org
}

// SummarizerConfig 定义摘要服务配置
type SummarizerConfig struct {
	APIKey    string // OpenAI API key，为空则禁用摘要、使用正文节选
	Model     string // 模型名，默认 gpt-4o-mini
	MaxTokens int    // 摘要输出 token 上限，默认 300
}

// RoutingConfig 定义别名路由规则提供方配置
type RoutingConfig struct {
	Provider string // "catchall"（默认）或 "cloudflare"
	APIToken string // Cloudflare API token
	ZoneID   string // Cloudflare zone
	ForwardTo string // Cloudflare 规则的转发目标邮箱
}

// ProvisionConfig 定义供外部系统调用的开通 API 配置
type ProvisionConfig struct {
	APIKeyHash string // 开通 API key 的 bcrypt 哈希；为空则关闭开通 API
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // "mysql" 或 "postgres"；为空使用内存存储
	DSN             string        // 连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled  bool   // 是否启用去重缓存与限流
	Address  string // 服务地址，默认 "localhost:6379"
	Password string
	DB       int
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // debug, info, warn, error
	Development bool
	File        string // 日志文件路径，为空只输出到 stdout
}

// CORSConfig 定义跨域资源共享配置
type CORSConfig struct {
	AllowedOrigins []string
}

// Config 是系统核心配置的根结构体。
type Config struct {
	Server     ServerConfig
	IMAP       IMAPConfig
	SMTP       SMTPConfig
	Mail       MailConfig
	Blob       BlobConfig
	Retrieval  RetrievalConfig
	Telegram   TelegramConfig
	Summarizer SummarizerConfig
	Routing    RoutingConfig
	Provision  ProvisionConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	CORS       CORSConfig
}

// Load 从环境变量和 .env 文件加载系统配置。
//
// 加载优先级：系统环境变量 > .env 文件 > 默认值。
// 环境变量前缀 MAILECHO_，如 MAILECHO_TELEGRAM_TOKEN。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("mailecho")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("imap.enabled", true)
	viper.SetDefault("imap.host", "imap.gmail.com")
	viper.SetDefault("imap.port", 993)
	viper.SetDefault("imap.mailbox", "INBOX")
	viper.SetDefault("imap.tls", true)
	viper.SetDefault("imap.poll_interval", "1m")
	viper.SetDefault("smtp.enabled", false)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("mail.alias_length", 8)
	viper.SetDefault("mail.max_body_chars", 15000)
	viper.SetDefault("mail.excerpt_chars", 1000)
	viper.SetDefault("mail.delivery_tries", 3)
	viper.SetDefault("mail.workers", 4)
	viper.SetDefault("blob.path", "./data/raw-mail")
	viper.SetDefault("retrieval.sign_ttl", "15m")
	viper.SetDefault("telegram.api_base", "https://api.telegram.org")
	viper.SetDefault("summarizer.model", "gpt-4o-mini")
	viper.SetDefault("summarizer.max_tokens", 300)
	viper.SetDefault("routing.provider", "catchall")
	viper.SetDefault("database.type", "")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("cors.allowed_origins", "*")

	pollInterval, err := time.ParseDuration(viper.GetString("imap.poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid imap.poll_interval: %w", err)
	}

	signTTL, err := time.ParseDuration(viper.GetString("retrieval.sign_ttl"))
	if err != nil {
		signTTL = 15 * time.Minute
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	mailDomain := strings.ToLower(strings.TrimSpace(viper.GetString("mail.domain")))
	if mailDomain == "" {
		return nil, fmt.Errorf("mail.domain must be set (e.g. MAILECHO_MAIL_DOMAIN=example.com)")
	}

	publicBaseURL := strings.TrimRight(viper.GetString("retrieval.public_base_url"), "/")
	signSecret := viper.GetString("retrieval.sign_secret")
	if publicBaseURL != "" && len(signSecret) < 32 {
		return nil, fmt.Errorf("retrieval.sign_secret must be at least 32 characters when retrieval.public_base_url is set")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		IMAP: IMAPConfig{
			Enabled:      viper.GetBool("imap.enabled"),
			Host:         viper.GetString("imap.host"),
			Port:         viper.GetInt("imap.port"),
			Username:     viper.GetString("imap.username"),
			Password:     viper.GetString("imap.password"),
			Mailbox:      viper.GetString("imap.mailbox"),
			TLS:          viper.GetBool("imap.tls"),
			PollInterval: pollInterval,
		},
		SMTP: SMTPConfig{
			Enabled:  viper.GetBool("smtp.enabled"),
			BindAddr: viper.GetString("smtp.bind_addr"),
			Domain:   mailDomain,
		},
		Mail: MailConfig{
			Domain:        mailDomain,
			AliasLength:   viper.GetInt("mail.alias_length"),
			MaxBodyChars:  viper.GetInt("mail.max_body_chars"),
			ExcerptChars:  viper.GetInt("mail.excerpt_chars"),
			DeliveryTries: viper.GetInt("mail.delivery_tries"),
			Workers:       viper.GetInt("mail.workers"),
		},
		Blob: BlobConfig{
			Path: viper.GetString("blob.path"),
		},
		Retrieval: RetrievalConfig{
			PublicBaseURL: publicBaseURL,
			SignSecret:    signSecret,
			SignTTL:       signTTL,
		},
		Telegram: TelegramConfig{
			Token:   viper.GetString("telegram.token"),
			APIBase: strings.TrimRight(viper.GetString("telegram.api_base"), "/"),
		},
		Summarizer: SummarizerConfig{
			APIKey:    viper.GetString("summarizer.api_key"),
			Model:     viper.GetString("summarizer.model"),
			MaxTokens: viper.GetInt("summarizer.max_tokens"),
		},
		Routing: RoutingConfig{
			Provider:  viper.GetString("routing.provider"),
			APIToken:  viper.GetString("routing.api_token"),
			ZoneID:    viper.GetString("routing.zone_id"),
			ForwardTo: viper.GetString("routing.forward_to"),
		},
		Provision: ProvisionConfig{
			APIKeyHash: viper.GetString("provision.api_key_hash"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(viper.GetString("cors.allowed_origins")),
		},
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片。
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

// loadEnvFile 尝试加载当前目录或父目录的 .env 文件（可选，静默失败）。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
