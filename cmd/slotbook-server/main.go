package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"slotbook/backend/internal/availability"
	"slotbook/backend/internal/config"
	"slotbook/backend/internal/form"
	"slotbook/backend/internal/instant"
	"slotbook/backend/internal/orchestrator"
	"slotbook/backend/internal/service/bookings"
	"slotbook/backend/internal/session"
	"slotbook/backend/internal/store/postgres"
	grpcTransport "slotbook/backend/internal/transport/grpc"
	"slotbook/backend/internal/verification"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "slotbook-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "slotbook-server"),
	)
	slog.SetDefault(log)

	log.Info("starting", slog.String("grpc_addr", cfg.GRPCAddr()), slog.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	sessionStore, codeStore, closeRedis, err := openStateStores(ctx, cfg, log)
	if err != nil {
		log.Error("redis connection failed", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
		os.Exit(1)
	}
	defer closeRedis()

	eventRepo := postgres.NewEventTypeRepo(db)
	bookingRepo := postgres.NewBookingRepo(db)
	bookingSvc := bookings.NewService(eventRepo, bookingRepo, cfg.InstantTokenTTL, log)
	slots := availability.NewSource(eventRepo, bookingRepo, log)

	sessions := session.NewManager(sessionStore, log)
	forms := form.NewBuilder(bookingRepo.ResponseAvailable)

	runner := instant.NewRunner(instant.NewPoller(bookingSvc, cfg.InstantPollInterval, log), log)
	defer runner.Close()

	orch := orchestrator.New(sessions, bookingSvc, forms, orchestrator.URLRedirector{BaseURL: cfg.PublicBaseURL}, runner, log)

	challenger := verification.NewOTPChallenger(codeStore, verification.NewLogSender(log), verification.OTPConfig{
		CodeLength: cfg.VerificationCodeLength,
		CodeTTL:    cfg.VerificationCodeTTL,
		IssueRate:  rate.Limit(cfg.VerificationIssueRate),
		IssueBurst: cfg.VerificationIssueBurst,
	}, log)
	gate := verification.NewGate(sessions, challenger, orch, log)

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.RegisterBookingSessionsServer(grpcServer, grpcTransport.NewSessionsServer(grpcTransport.SessionsDeps{
		Sessions: sessions,
		Submit:   gate,
		Events:   eventRepo,
		Bookings: bookingSvc,
		Slots:    slots,
		Forms:    forms,
	}, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// openStateStores picks redis-backed session and code stores when an address
// is configured and in-process ones otherwise.
func openStateStores(ctx context.Context, cfg config.Config, log *slog.Logger) (session.Store, verification.CodeStore, func(), error) {
	if cfg.RedisAddr == "" {
		log.Warn("redis not configured; sessions and verification codes are kept in memory")
		return session.NewMemoryStore(cfg.SessionTTL), verification.NewMemoryCodeStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	log.Info("connected to redis", slog.String("redis_addr", cfg.RedisAddr), slog.Int("redis_db", cfg.RedisDB))

	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}
	return session.NewRedisStore(client, cfg.SessionTTL), verification.NewRedisCodeStore(client), closeFn, nil
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
