// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Redis。空の場合はクライアント状態と認証イベントをプロセス内で保持する
	RedisURL string `env:"REDIS_URL"`

	// Auth
	SessionSecret   string        `env:"SESSION_SECRET,required,notEmpty"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthAutoConfirm bool          `env:"AUTH_AUTO_CONFIRM" envDefault:"false"`

	// Gate
	LoginPath       string        `env:"LOGIN_PATH" envDefault:"/auth"`
	HomePath        string        `env:"HOME_PATH" envDefault:"/"`
	ClientIdleTTL   time.Duration `env:"CLIENT_IDLE_TTL" envDefault:"30m"`
	GateLoadingWait time.Duration `env:"GATE_LOADING_WAIT" envDefault:"500ms"`
	ClientMax       int           `env:"CLIENT_MAX" envDefault:"10000"`

	// Rate Limit（req/min/IP。サインインはメールアドレスごとにも適用）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSignIn  int `env:"RATE_LIMIT_SIGN_IN" envDefault:"10"`

	// Import / Sync
	ImportTimeout     time.Duration `env:"IMPORT_TIMEOUT" envDefault:"10s"`
	ImportMaxSize     int64         `env:"IMPORT_MAX_SIZE" envDefault:"5242880"`
	SyncInterval      time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`
	SyncMaxConcurrent int           `env:"SYNC_MAX_CONCURRENT" envDefault:"4"`

	// Cleanup
	UnconfirmedRetentionDays int `env:"UNCONFIRMED_RETENTION_DAYS" envDefault:"7"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie。CookieSecureはBASE_URLのスキームから決まる
	CookieSecure bool `env:"-"`
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.RateLimitGeneral <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL must be positive"))
	}
	if c.RateLimitSignIn <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SIGN_IN must be positive"))
	}
	if c.ClientMax <= 0 {
		errs = append(errs, errors.New("CLIENT_MAX must be positive"))
	}
	if c.SyncMaxConcurrent <= 0 {
		errs = append(errs, errors.New("SYNC_MAX_CONCURRENT must be positive"))
	}
	if c.ImportMaxSize <= 0 {
		errs = append(errs, errors.New("IMPORT_MAX_SIZE must be positive"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if !strings.HasPrefix(c.LoginPath, "/") || !strings.HasPrefix(c.HomePath, "/") {
		errs = append(errs, errors.New("LOGIN_PATH and HOME_PATH must be absolute paths"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
