package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/novelshelf/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 全リクエストのレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // 全リクエストのバーストサイズ
	SignInRate      rate.Limit    // サインイン・サインアップ送信のレート（req/sec）。10/60
	SignInBurst     int           // サインイン・サインアップ送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 全リクエスト 120 req/min/IP、サインイン送信 10 req/min/IP（およびメールアドレスごと）
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// NewRateLimiterConfig は1分あたりの許容回数から設定を生成する。
func NewRateLimiterConfig(generalPerMin, signInPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    generalPerMin,
		SignInRate:      rate.Limit(float64(signInPerMin) / 60.0),
		SignInBurst:     signInPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキーごとのリミッター群。
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*clientLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{limit: limit, burst: burst, limiters: make(map[string]*clientLimiter)}
}

func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = cl
	}
	cl.lastAccess = now
	return cl.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

func (s *limiterSet) evictBefore(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cl := range s.limiters {
		if cl.lastAccess.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter は接続元IPごとのレート制限を管理する。
// 全リクエストのレート制限とサインイン送信のレート制限の2種類を提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	signIn  *limiterSet

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst),
		signIn:  newLimiterSet(config.SignInRate, config.SignInBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は全リクエストのレート制限ミドルウェアを返す。
// 接続元IPをキーにするため、クライアントミドルウェアより前に置いて状態を作る前に制限する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, rl.config.GeneralRate, "general", func(r *http.Request) []string {
		return []string{ipKey(r)}
	})
}

// SignInMiddleware はサインイン・サインアップ送信専用のレート制限ミドルウェアを返す。
// 接続元IPと送信されたメールアドレスの両方で制限し、どちらかが上限に達したら拒否する。
// 全リクエストのレート制限とは独立に動作する。
func (rl *RateLimiter) SignInMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.signIn, rl.config.SignInRate, "sign_in", func(r *http.Request) []string {
		keys := []string{ipKey(r)}
		if email := strings.ToLower(strings.TrimSpace(r.PostFormValue("email"))); email != "" {
			keys = append(keys, "email:"+email)
		}
		return keys
	})
}

func (rl *RateLimiter) middleware(set *limiterSet, limit rate.Limit, limitType string, keysFor func(*http.Request) []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			for _, key := range keysFor(r) {
				if !set.get(key, now).Allow() {
					slog.Warn("rate limit exceeded",
						slog.String("key", key),
						slog.String("limit_type", limitType),
					)
					writeRateLimitResponse(w, limit)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されている全リクエスト用リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// SignInLimiterCount は現在管理されているサインイン用リミッターのエントリ数を返す。
func (rl *RateLimiter) SignInLimiterCount() int {
	return rl.signIn.len()
}

// ipKey は接続元IPのキーを返す。Cookieなどクライアントが選べる値は使わない。
func ipKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-2 * rl.config.CleanupInterval)
	rl.general.evictBefore(cutoff)
	rl.signIn.evictBefore(cutoff)
}

// writeRateLimitResponse は429 Too Many Requestsのページを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorPage(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
