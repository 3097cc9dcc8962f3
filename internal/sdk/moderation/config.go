package moderation

import (
	"time"

	zlog "github.com/lk2023060901/pairchat-go/pkg/log"
)

const (
	// 默认网络超时与重试配置。
	defaultReadTimeoutMS = 5000
	defaultMaxAttempts   = 3

	// defaultThreshold 为默认毒性判定阈值，超过即拒绝。
	defaultThreshold = 0.8
)

// Config 描述内容审核服务客户端的基础配置。
//
// 说明：
//   - BaseURL 为模型编排服务的基础地址；
//   - Threshold 为毒性概率阈值，取值 (0, 1]；
//   - Logger 仅用于本地封装层的日志记录。
type Config struct {
	BaseURL string

	ReadTimeout int // 毫秒
	MaxAttempts int

	Threshold float64

	// Logger 允许调用方注入自定义日志实例；为空时使用全局日志。
	Logger *zlog.MLogger
}

// Option 为 Config 的可选配置项。
type Option func(*Config)

// WithBaseURL 设置审核服务的基础地址。
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		if baseURL != "" {
			c.BaseURL = baseURL
		}
	}
}

// WithHTTPTimeout 设置单次请求的读超时。
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadTimeout = int(d.Milliseconds())
		}
	}
}

// WithMaxRetries 设置可重试错误的最大重试次数（不含首次调用）。
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxAttempts = n + 1
		}
	}
}

// WithThreshold 设置毒性判定阈值。
func WithThreshold(v float64) Option {
	return func(c *Config) {
		if v > 0 && v <= 1 {
			c.Threshold = v
		}
	}
}

// WithLogger 注入具名日志实例。
func WithLogger(l *zlog.MLogger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func (c *Config) fillDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeoutMS
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = defaultThreshold
	}
}
