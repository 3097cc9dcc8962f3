package transport

import "time"

// Config 描述 WebSocket 接入层的配置。
type Config struct {
	// Addr 为监听地址，形如 ":8080"。
	Addr string `mapstructure:"addr"`

	// AllowedOrigins 为允许的跨域来源，为空表示不限制。
	AllowedOrigins []string `mapstructure:"allowed-origins"`

	// HeartbeatInterval 为服务端 ping 的发送间隔。
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval"`

	// WriteTimeout 为单帧写出的超时时间。
	WriteTimeout time.Duration `mapstructure:"write-timeout"`

	// MaxMessageSize 为入站消息的最大字节数。
	MaxMessageSize int64 `mapstructure:"max-message-size"`

	// HistoryLimit 为历史接口单次返回的默认条数上限。
	HistoryLimit int `mapstructure:"history-limit"`
}

func (c *Config) fillDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
}
