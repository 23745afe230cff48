package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drinkshop-backend/internal/config"
	"drinkshop-backend/internal/infrastructure/bankqr"
	"drinkshop-backend/internal/infrastructure/cache"
	"drinkshop-backend/internal/infrastructure/events"
	"drinkshop-backend/internal/infrastructure/media"
	"drinkshop-backend/internal/infrastructure/repo"
	"drinkshop-backend/internal/logging"
	"drinkshop-backend/internal/server"
	"drinkshop-backend/internal/usecase"

	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogJSON)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// loadConfig layers defaults, the config file and DRINKSHOP_* variables, then
// the command-line flags, and validates the result once.
func loadConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("drinkshop-backend", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (defaults to ./.env when present)")
	env := fs.String("env", "", "environment name: dev, staging or prod")
	port := fs.Int("port", 0, "HTTP listen port")
	mediaDir := fs.String("media", "", "directory for uploaded refund evidence")
	jwtSecret := fs.String("jwt-secret", "", "HMAC secret for access and refresh tokens")
	logJSON := fs.Bool("log-json", true, "log JSON instead of console output")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "env":
			cfg.Env = *env
		case "port":
			cfg.Port = *port
		case "media":
			cfg.MediaDir = *mediaDir
		case "jwt-secret":
			cfg.JWTSecret = *jwtSecret
		case "log-json":
			cfg.LogJSON = *logJSON
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ensureDir(cfg.MediaDir)

	var (
		orders usecase.OrderRepo
		users  usecase.UserRepo
	)
	if cfg.DatabaseURL != "" {
		pg, err := repo.NewPostgresRepo(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pg.Close()
		orders, users = pg, pg
		logger.Info("using postgres storage")
	} else {
		orders, users = repo.NewMemoryOrderRepo(), repo.NewMemoryUserRepo()
		logger.Warn("DATABASE_URL not set, orders are kept in memory")
	}

	var (
		carts usecase.CartStore
		idem  usecase.IdempotencyStore
	)
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		carts, idem = cache.NewRedisCartStore(rdb, 0), cache.NewRedisIdempotency(rdb)
	} else {
		carts, idem = cache.NewMemoryCartStore(), cache.NewMemoryIdempotency()
	}

	var publisher usecase.EventPublisher = events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		kp := events.NewKafkaPublisher(producer, cfg.KafkaTopic, logger)
		defer kp.Close()
		publisher = kp
	}

	var bank *bankqr.Client
	if cfg.BankQREnabled() {
		c, err := bankqr.NewClient(bankqr.Config{
			BankBIN:       cfg.BankBIN,
			AccountNo:     cfg.BankAccount,
			AccountName:   cfg.BankAccountName,
			WebhookSecret: cfg.BankWebhookSecret,
		})
		if err != nil {
			return fmt.Errorf("bank qr: %w", err)
		}
		bank = c
	} else {
		logger.Warn("bank transfer settings missing, QR orders are disabled")
	}

	promos := usecase.NewStaticPromoBook(cfg.DomainPromos())
	auth := &usecase.AuthService{
		Repo:       users,
		JWTSecret:  cfg.JWTSecret,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Logger:     logger,
	}
	payments := &usecase.PaymentService{
		Repo:   orders,
		Events: publisher,
		Logger: logger,
		Window: cfg.PaymentWindow,
	}
	if bank != nil {
		payments.QR = bank
	}
	deps := server.Deps{
		Auth: auth,
		Orders: &usecase.OrderService{
			Repo:           orders,
			Carts:          carts,
			Promos:         promos,
			Idempotency:    idem,
			Payments:       payments,
			Events:         publisher,
			Logger:         logger,
			DeliveryFee:    cfg.DeliveryFeeAmount(),
			CheckoutWindow: cfg.CheckoutWindow,
		},
		Payments: payments,
		Refunds:  &usecase.RefundService{Repo: orders, Events: publisher, Logger: logger},
		Carts:    &usecase.CartService{Carts: carts, Promos: promos, DeliveryFee: cfg.DeliveryFeeAmount(), Logger: logger},
		Console:  &usecase.ConsoleService{Repo: orders, Location: cfg.Location()},
		Bank:     bank,
		Media:    media.NewFSWriter(cfg.MediaDir, cfg.PublicBaseURL),
		Logger:   logger,
	}

	if err := auth.EnsureAdmin(ctx, cfg.AdminPhone, cfg.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	go payments.RunSweeper(ctx, cfg.SweepInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.New(cfg, deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("drinkshop backend started", zap.Int("port", cfg.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func ensureDir(p string) {
	if p == "" {
		return
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		_ = os.MkdirAll(p, 0o755)
	}
}
