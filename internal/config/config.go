package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	// DialTimeout bounds how long an unanswered call may ring before the
	// relay fails it on both sides.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	// HistoryLimit is the number of recent messages pushed to a client
	// when it joins a conversation.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
	// MessageRateLimit caps client messages per minute per connection.
	// Zero disables limiting.
	MessageRateLimit int `mapstructure:"message_rate_limit" yaml:"message_rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "newleaf.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "newleaf",
		JWTAudience:       "newleaf-rtc",
		TokenTTL:          24 * time.Hour,
		DialTimeout:       45 * time.Second,
		HistoryLimit:      50,
		MessageRateLimit:  120,
	}
}
