package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-messenger/internal/api"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/cache"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/idgen"
	"github.com/npezzotti/go-messenger/internal/media"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	logger := log.New(os.Stderr, "[go-messenger] ", log.LstdFlags)

	// a missing .env file is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	var (
		p              config.Params
		allowedOrigins stringSliceFlag
	)
	flag.StringVar(&p.ServerAddr, "addr", envOr("MESSENGER_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&p.DatabaseDriver, "db-driver", envOr("MESSENGER_DB_DRIVER", database.DriverPostgres), "database driver (postgres or sqlite3)")
	flag.StringVar(&p.DatabaseDSN, "dsn", envOr("MESSENGER_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&p.SigningKey, "signing-key", envOr("MESSENGER_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&p.MediaDir, "media-dir", envOr("MESSENGER_MEDIA_DIR", "./media"), "directory for stored attachments")
	flag.StringVar(&p.MediaBaseURL, "media-base-url", envOr("MESSENGER_MEDIA_BASE_URL", "/media"), "base URL attachments are served from")
	flag.StringVar(&p.RedisURL, "redis-url", envOr("MESSENGER_REDIS_URL", ""), "redis URL for the session cache, disabled if empty")
	flag.Int64Var(&p.NodeId, "node-id", envInt("MESSENGER_NODE_ID", 0), "id generator node id (0-1023)")
	flag.Int64Var(&p.MaxAttachmentSize, "max-attachment-size", envInt("MESSENGER_MAX_ATTACHMENT_SIZE", config.DefaultMaxAttachmentSize), "attachment size limit in bytes")
	flag.DurationVar(&p.TypingTimeout, "typing-timeout", envDuration("MESSENGER_TYPING_TIMEOUT", config.DefaultTypingTimeout), "typing indicator timeout")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("MESSENGER_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}
	p.AllowedOrigins = allowedOrigins

	cfg, err := config.NewConfig(p)
	if err != nil {
		logger.Fatal("config:", err)
	}

	if err := database.Migrate(cfg.DatabaseDriver, cfg.DatabaseDSN); err != nil {
		logger.Fatal("db migrate:", err)
	}

	dbConn, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	var sessionCache cache.Cache = cache.NopCache{}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer rc.Close()
		sessionCache = rc
	}

	ids, err := idgen.NewGenerator(cfg.NodeId)
	if err != nil {
		logger.Fatal("id generator:", err)
	}

	store, err := media.NewDiskStore(cfg.MediaDir, cfg.MediaBaseURL, cfg.NodeId)
	if err != nil {
		logger.Fatal("media store:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, store, ids, statsUpdater, server.Options{
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		TypingTimeout:     cfg.TypingTimeout,
	})
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	resolver := auth.NewJWTResolver(cfg.SigningKey, dbConn, sessionCache)
	srv := api.NewMessengerApp(mux, logger, chatServer, dbConn, resolver, ids, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
