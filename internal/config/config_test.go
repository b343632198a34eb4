package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"MAILECHO_MAIL_DOMAIN",
		"MAILECHO_SERVER_HOST",
		"MAILECHO_SERVER_PORT",
		"MAILECHO_IMAP_POLL_INTERVAL",
		"MAILECHO_SMTP_ENABLED",
		"MAILECHO_SMTP_BIND_ADDR",
		"MAILECHO_RETRIEVAL_PUBLIC_BASE_URL",
		"MAILECHO_RETRIEVAL_SIGN_SECRET",
		"MAILECHO_CORS_ALLOWED_ORIGINS",
		"MAILECHO_LOG_LEVEL",
		"MAILECHO_LOG_DEVELOPMENT",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	t.Run("加载默认配置成功", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		// 设置必需的邮件域名
		os.Setenv("MAILECHO_MAIL_DOMAIN", "example.com")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "example.com", cfg.Mail.Domain)
		assert.Equal(t, 8, cfg.Mail.AliasLength)
		assert.Equal(t, 15000, cfg.Mail.MaxBodyChars)
		assert.Equal(t, 1000, cfg.Mail.ExcerptChars)
		assert.Equal(t, 3, cfg.Mail.DeliveryTries)
		assert.Equal(t, 4, cfg.Mail.Workers)
		assert.True(t, cfg.IMAP.Enabled)
		assert.Equal(t, time.Minute, cfg.IMAP.PollInterval)
		assert.False(t, cfg.SMTP.Enabled)
		assert.Equal(t, ":25", cfg.SMTP.BindAddr)
		assert.Equal(t, "example.com", cfg.SMTP.Domain)
		assert.Equal(t, 15*time.Minute, cfg.Retrieval.SignTTL)
		assert.Equal(t, "catchall", cfg.Routing.Provider)
		assert.Equal(t, "gpt-4o-mini", cfg.Summarizer.Model)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		os.Setenv("MAILECHO_MAIL_DOMAIN", "Inbox.Example.ORG")
		os.Setenv("MAILECHO_SERVER_HOST", "127.0.0.1")
		os.Setenv("MAILECHO_SERVER_PORT", "9090")
		os.Setenv("MAILECHO_IMAP_POLL_INTERVAL", "30s")
		os.Setenv("MAILECHO_SMTP_ENABLED", "true")
		os.Setenv("MAILECHO_SMTP_BIND_ADDR", ":2525")
		os.Setenv("MAILECHO_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
		os.Setenv("MAILECHO_LOG_LEVEL", "debug")
		os.Setenv("MAILECHO_LOG_DEVELOPMENT", "true")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 域名归一化为小写
		assert.Equal(t, "inbox.example.org", cfg.Mail.Domain)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.IMAP.PollInterval)
		assert.True(t, cfg.SMTP.Enabled)
		assert.Equal(t, ":2525", cfg.SMTP.BindAddr)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.Development)
	})

	t.Run("缺少邮件域名时报错", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "mail.domain")
	})

	t.Run("取回地址有效但签名密钥太短时报错", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("MAILECHO_MAIL_DOMAIN", "example.com")
		os.Setenv("MAILECHO_RETRIEVAL_PUBLIC_BASE_URL", "https://mail.example.com")
		os.Setenv("MAILECHO_RETRIEVAL_SIGN_SECRET", "too-short")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "sign_secret")
	})

	t.Run("无效的轮询间隔时报错", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("MAILECHO_MAIL_DOMAIN", "example.com")
		os.Setenv("MAILECHO_IMAP_POLL_INTERVAL", "not-a-duration")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList("a, b"))
	assert.Equal(t, []string{"a"}, parseList("a,,"))
	assert.Empty(t, parseList(""))
}
