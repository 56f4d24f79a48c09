package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/tutor-chat/internal/api"
	"github.com/npezzotti/tutor-chat/internal/chat"
	"github.com/npezzotti/tutor-chat/internal/config"
	"github.com/npezzotti/tutor-chat/internal/database"
	"github.com/npezzotti/tutor-chat/internal/server"
	"github.com/npezzotti/tutor-chat/internal/stats"
	"github.com/sirupsen/logrus"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, config.SplitOrigins(value)...)
	return nil
}

var (
	addr           string
	dsn            string
	logLevel       string
	maxOpenConns   int
	systemSenderId int64
	migrate        bool
	allowedOrigins stringSliceFlag
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadDotEnv(); err != nil {
		logger.WithError(err).Fatal("load .env")
	}

	flag.StringVar(&addr, "addr", config.Getenv("SERVER_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.DSNFromEnv(defaultDSN), `database connection string, or "memory" for an in-process store`)
	flag.StringVar(&logLevel, "log-level", config.Getenv("LOG_LEVEL", "info"), "log level")
	flag.IntVar(&maxOpenConns, "max-open-conns", config.GetenvInt("DB_MAX_OPEN_CONNS", 25), "maximum open database connections")
	flag.Int64Var(&systemSenderId, "system-sender-id", config.DefaultSystemSenderId(), "sender id excluded from the students inbox")
	flag.BoolVar(&migrate, "migrate", true, "apply database migrations on startup")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = config.SplitOrigins(config.Getenv("ALLOWED_ORIGINS", "*"))
	}

	cfg, err := config.NewConfig(addr, dsn, allowedOrigins, systemSenderId)
	if err != nil {
		logger.WithError(err).Fatal("config")
	}
	cfg.MaxOpenConns = maxOpenConns

	if cfg.LogLevel, err = config.ParseLogLevel(logLevel); err != nil {
		logger.WithError(err).Fatal("config")
	}
	logger.SetLevel(cfg.LogLevel)

	db, err := openRepository(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("db close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, statsUpdater)
	if err != nil {
		logger.WithError(err).Fatal("new chat server")
	}

	svc := chat.NewService(logger, db, chatServer)
	srv := api.NewChatApp(mux, logger, chatServer, svc, db, cfg)

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
		logger.WithField("signal", sig.String()).Info("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server")
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown")
	}

	logger.Info("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Error("chat server shutdown")
	}

	logger.Info("shutdown complete")
}

func openRepository(logger *logrus.Logger, cfg *config.Config) (database.ChatRepository, error) {
	if cfg.DatabaseDSN == config.MemoryDSN {
		logger.Warn("using in-memory store, data will not survive a restart")
		return database.NewMemoryChatRepository(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := database.NewPgChatRepository(ctx, cfg.DatabaseDSN, database.PoolOptions{
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}

	if migrate {
		version, err := pg.Migrate(ctx)
		if err != nil {
			pg.Close()
			return nil, err
		}
		logger.WithField("version", version).Info("database schema up to date")
	}

	return pg, nil
}
