// Package app はサーバーの起動・依存関係の組み立て・サブコマンドを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hitoshi/hanumo-auth/internal/auth"
	"github.com/hitoshi/hanumo-auth/internal/config"
	"github.com/hitoshi/hanumo-auth/internal/database"
	"github.com/hitoshi/hanumo-auth/internal/handler"
	"github.com/hitoshi/hanumo-auth/internal/idp"
	"github.com/hitoshi/hanumo-auth/internal/logger"
	"github.com/hitoshi/hanumo-auth/internal/metrics"
	"github.com/hitoshi/hanumo-auth/internal/middleware"
	"github.com/hitoshi/hanumo-auth/internal/repository"
	"github.com/hitoshi/hanumo-auth/internal/security"
	"github.com/hitoshi/hanumo-auth/internal/token"
	"github.com/hitoshi/hanumo-auth/internal/user"
)

// pingTimeout は起動時・ヘルスチェック時の接続確認タイムアウト。
const pingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
		slog.Bool("dev_mode", cfg.DevMode),
	)

	if cmd.NeedsDatabase() && cfg.DatabaseURL == "" {
		return fmt.Errorf("%s requires DATABASE_URL", cmd)
	}

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandMigrateStatus:
		return runMigrateStatus(w, cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// Server は組み立て済みのHTTPハンドラーと、終了時に解放するリソースを保持する。
type Server struct {
	Handler  http.Handler
	Degraded bool

	closers []func() error
}

// Close は保持しているリソースを逆順に解放する。
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewServer は設定から全依存関係をワイヤリングしたServerを生成する。
// DATABASE_URLが空の場合はインメモリのユーザーストア、REDIS_URLが空の場合は
// インメモリのリフレッシュトークンストアを使う。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	srv := &Server{}
	var healthChecks []func(ctx context.Context) error

	fail := func(err error) (*Server, error) {
		srv.Close()
		return nil, err
	}

	// 1. ユーザーストア
	var userRepo repository.UserRepository
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		srv.closers = append(srv.closers, db.Close)
		healthChecks = append(healthChecks, func(ctx context.Context) error {
			return database.Ping(ctx, db, pingTimeout)
		})
		userRepo = repository.NewPostgresUserRepo(db)
		slog.Info("database connection established")
	} else {
		userRepo = repository.NewMemoryUserRepo()
		slog.Warn("DATABASE_URL not set, using in-memory user store")
	}

	// 2. リフレッシュトークンストア
	var refreshStore repository.RefreshTokenStore
	if cfg.RedisURL != "" {
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		srv.closers = append(srv.closers, client.Close)
		healthChecks = append(healthChecks, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		refreshStore = repository.NewRedisRefreshTokenStore(client)
		slog.Info("redis connection established")
	} else {
		refreshStore = repository.NewMemoryRefreshTokenStore()
		slog.Warn("REDIS_URL not set, using in-memory refresh token store")
	}

	// 3. トークン発行・IDトークン検証
	issuer, err := token.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return fail(err)
	}

	var verifier auth.IdentityVerifier
	if cfg.VerificationConfigured() {
		v, err := idp.NewVerifier(idp.Config{
			Key:    cfg.PrivyVerificationKey,
			AppID:  cfg.PrivyAppID,
			Issuer: cfg.PrivyIssuer,
		})
		if err != nil {
			return fail(err)
		}
		verifier = v
	} else {
		srv.Degraded = true
		slog.Warn("privy verification key not configured, running in degraded mode")
	}

	policy, err := auth.ParseVerifyFailurePolicy(cfg.VerifyFailurePolicy)
	if err != nil {
		return fail(err)
	}

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービス
	authService := auth.NewService(verifier, issuer, userRepo, refreshStore, collector, auth.ServiceConfig{
		FailurePolicy: policy,
	})
	userService := user.NewService(userRepo, security.NewTextSanitizer())

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitAuth, cfg.RateLimitGeneral),
	)
	srv.closers = append(srv.closers, func() error {
		rateLimiter.Stop()
		return nil
	})

	srv.Handler = handler.NewRouter(&handler.RouterDeps{
		AccessTokenParser: issuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		Gatherer:          registry,
		RequestTimeout:    cfg.RequestTimeout,
		HealthCheck: func(ctx context.Context) error {
			for _, check := range healthChecks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		AuthService: handler.NewAuthServiceAdapter(authService),
		UserService: handler.NewUserServiceAdapter(userService),
	})

	return srv, nil
}

// openDatabase はDB接続を開き疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, pingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openRedis はRedisクライアントを生成し疎通を確認する。
func openRedis(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM受信）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("degraded", srv.Degraded),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
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

// runMigrateStatus はusersスキーマのバージョンをwに出力する。
func runMigrateStatus(w io.Writer, cfg *config.Config) error {
	status, err := database.Status(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migrate-status failed: %w", err)
	}
	if !status.Applied {
		_, err = fmt.Fprintln(w, "users schema: not applied")
		return err
	}
	_, err = fmt.Fprintf(w, "users schema: version=%d dirty=%t\n", status.Version, status.Dirty)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
