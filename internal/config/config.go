// Package config は環境変数からの設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/hanumo-auth/internal/idp"
)

// Config は認証サーバー全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Mode
	DevMode bool `env:"AUTH_DEV_MODE" envDefault:"false"`

	// Storage
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// Privy
	PrivyVerificationKey string `env:"PRIVY_VERIFICATION_KEY"`
	PrivyAppID           string `env:"PRIVY_APP_ID"`
	PrivyIssuer          string `env:"PRIVY_ISSUER"`
	VerifyFailurePolicy  string `env:"PRIVY_VERIFY_FAILURE_POLICY" envDefault:"reject"`

	// Session tokens
	JWTSecret string `env:"JWT_SECRET"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"30"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Server
	ServerPort      string        `env:"SERVER_PORT" envDefault:"8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// VerificationConfigured は実際のトークン検証が可能な鍵が設定されているかを返す。
func (c *Config) VerificationConfigured() bool {
	return !idp.IsPlaceholderSecret(c.PrivyVerificationKey)
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数名を全て列挙したエラーを返す。
// 開発モードではDATABASE_URLとPRIVY_VERIFICATION_KEYを省略できる。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var missing []string
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if !cfg.DevMode {
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if !cfg.VerificationConfigured() {
			missing = append(missing, "PRIVY_VERIFICATION_KEY")
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.VerifyFailurePolicy {
	case "reject":
	case "degrade":
		if !cfg.DevMode {
			return nil, fmt.Errorf("PRIVY_VERIFY_FAILURE_POLICY=degrade requires AUTH_DEV_MODE=true")
		}
	default:
		return nil, fmt.Errorf("invalid PRIVY_VERIFY_FAILURE_POLICY: %q", cfg.VerifyFailurePolicy)
	}

	if cfg.RateLimitAuth <= 0 || cfg.RateLimitGeneral <= 0 {
		return nil, fmt.Errorf("rate limits must be positive")
	}

	return cfg, nil
}

// ClientConfig はhanumoctlクライアントの設定を保持する。
type ClientConfig struct {
	APIURL      string        `env:"HANUMO_API_URL" envDefault:"http://localhost:8080"`
	SessionFile string        `env:"HANUMO_SESSION_FILE"`
	Timeout     time.Duration `env:"HANUMO_CLIENT_TIMEOUT" envDefault:"10s"`
	MaxRetries  int           `env:"HANUMO_CLIENT_MAX_RETRIES" envDefault:"3"`
}

// LoadClient は環境変数からClientConfigを読み込む。
// セッションファイルの既定値はユーザー設定ディレクトリ配下。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.SessionFile = filepath.Join(dir, "hanumo", "session.json")
	}
	return cfg, nil
}
