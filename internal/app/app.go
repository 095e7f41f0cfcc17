package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/novelshelf/internal/admin"
	"github.com/hitoshi/novelshelf/internal/auth"
	"github.com/hitoshi/novelshelf/internal/catalog"
	"github.com/hitoshi/novelshelf/internal/config"
	"github.com/hitoshi/novelshelf/internal/database"
	"github.com/hitoshi/novelshelf/internal/gate"
	"github.com/hitoshi/novelshelf/internal/handler"
	"github.com/hitoshi/novelshelf/internal/importer"
	"github.com/hitoshi/novelshelf/internal/library"
	"github.com/hitoshi/novelshelf/internal/logger"
	"github.com/hitoshi/novelshelf/internal/metrics"
	"github.com/hitoshi/novelshelf/internal/middleware"
	"github.com/hitoshi/novelshelf/internal/repository"
	"github.com/hitoshi/novelshelf/internal/security"
	"github.com/hitoshi/novelshelf/internal/session"
	"github.com/hitoshi/novelshelf/internal/view"
	"github.com/hitoshi/novelshelf/internal/worker/cleanup"
	"github.com/hitoshi/novelshelf/internal/worker/feedsync"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("redis", cfg.RedisURL != ""),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newMetricsRegistry はGo/プロセスのメトリクスを含むレジストリを生成する。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// openRedis はREDIS_URLが設定されている場合のみRedisに接続する。未設定ならnilを返す。
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set; client state is kept in process memory")
		return nil, nil
	}
	rdb, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	slog.Info("redis connection established")
	return rdb, nil
}

// newEventBus は認証状態の変化通知のバスを返す。Redisがある場合は複数プロセス間で共有する。
func newEventBus(rdb *redis.Client) auth.EventBus {
	if rdb != nil {
		return auth.NewRedisBus(rdb, slog.Default())
	}
	return auth.NewLocalBus()
}

// newClientFactory はクライアントごとの認証SDKと保存領域を生成する関数を返す。
// Redisがある場合は保存領域をRedisに置き、再起動やアイドル破棄を越えて保持する。
func newClientFactory(rdb *redis.Client, bus auth.EventBus, backend auth.Backend, storageTTL time.Duration) session.Factory {
	return func(clientID string) (session.AuthClient, auth.Storage) {
		var storage auth.Storage
		if rdb != nil {
			storage = auth.NewRedisStorage(rdb, clientID, storageTTL)
		} else {
			storage = auth.NewMemoryStorage()
		}
		return auth.NewClient(clientID, backend, storage, bus), storage
	}
}

func newImporter(cfg *config.Config, novels repository.NovelRepository, chapters repository.ChapterRepository, collector *metrics.Collector) *importer.Importer {
	return importer.New(
		novels, chapters,
		security.NewURLGuard(),
		security.NewContentSanitizer(),
		importer.Config{
			Timeout:      cfg.ImportTimeout,
			MaxBodySize:  cfg.ImportMaxSize,
			SyncInterval: cfg.SyncInterval,
		},
		slog.Default(),
		importer.WithRecorder(collector),
	)
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. Redis接続（任意）
	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	novelRepo := repository.NewPostgresNovelRepo(db)
	chapterRepo := repository.NewPostgresChapterRepo(db)
	bookmarkRepo := repository.NewPostgresBookmarkRepo(db)

	// 4. メトリクス
	promReg := newMetricsRegistry()
	var registry *session.Registry
	collector := metrics.NewCollector(promReg, func() int { return registry.Len() })

	// 5. 認証とクライアント状態
	authService := auth.NewService(
		userRepo, sessionRepo,
		auth.NewTokenIssuer([]byte(cfg.SessionSecret), cfg.BaseURL, cfg.AccessTokenTTL),
		auth.ServiceConfig{
			BaseURL:     cfg.BaseURL,
			RefreshTTL:  cfg.RefreshTokenTTL,
			AutoConfirm: cfg.AuthAutoConfirm,
		},
	)

	bus := newEventBus(rdb)
	if rb, ok := bus.(*auth.RedisBus); ok {
		defer rb.Close()
	}

	regCfg := session.DefaultRegistryConfig()
	regCfg.IdleTTL = cfg.ClientIdleTTL
	regCfg.MaxClients = cfg.ClientMax
	regCfg.StoreOptions = []session.Option{
		session.WithEventHook(func(e auth.Event) { collector.RecordAuthEvent(string(e)) }),
	}
	registry = session.NewRegistry(newClientFactory(rdb, bus, authService, cfg.RefreshTokenTTL), regCfg, slog.Default())
	defer registry.Stop()

	// 6. ドメインサービスの初期化
	imp := newImporter(cfg, novelRepo, chapterRepo, collector)
	catalogService := catalog.NewService(novelRepo, chapterRepo)
	libraryService := library.NewService(bookmarkRepo, novelRepo)
	adminService := admin.NewService(userRepo, novelRepo, chapterRepo, security.NewURLGuard(), imp)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSignIn))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:         slog.Default(),
		Views:          view.MustNew(),
		Clients:        registry,
		ClientResetter: registry,
		ClientConfig: middleware.ClientConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		Gate: middleware.GateConfig{
			Targets:     gate.Config{LoginTarget: cfg.LoginPath, HomeTarget: cfg.HomePath},
			LoadingWait: cfg.GateLoadingWait,
			Recorder:    collector,
		},

		HealthChecker:  db,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(promReg),

		Confirmer:      authService,
		SignInRecorder: collector,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:     cfg.BaseURL,
			LoginPath:   cfg.LoginPath,
			HomePath:    cfg.HomePath,
			AutoConfirm: cfg.AuthAutoConfirm,
		},

		CatalogService: catalogService,
		LibraryService: libraryService,
		AdminService:   adminService,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// 管理画面の取り込みは外部フィードの取得を待つため、WriteTimeoutは取り込みタイムアウトより長くする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ImportTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "web server")
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 取り込み元フィードの定期同期と、期限切れ認証データの日次クリーンアップを行う。
// /health と /metrics を公開する小さなHTTPサーバーも起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリとメトリクスの初期化
	novelRepo := repository.NewPostgresNovelRepo(db)
	chapterRepo := repository.NewPostgresChapterRepo(db)

	promReg := newMetricsRegistry()
	collector := metrics.NewCollector(promReg, nil)

	// 3. 同期処理の初期化
	imp := newImporter(cfg, novelRepo, chapterRepo, collector)
	syncer := feedsync.NewSyncer(novelRepo, imp, collector, slog.Default(), cfg.SyncInterval)
	scheduler := feedsync.NewScheduler(novelRepo, syncer, slog.Default(), cfg.SyncMaxConcurrent)

	// 4. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.UnconfirmedRetentionDays = cfg.UnconfirmedRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 5. 運用エンドポイント
	ops := chi.NewRouter()
	ops.Get("/health", handler.Health(db))
	ops.Method(http.MethodGet, "/metrics", metrics.Handler(promReg))
	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           ops,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		opsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
