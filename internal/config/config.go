package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	MemoryDSN = "memory"

	defaultSystemSenderId = 1
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	AllowedOrigins []string
	// SystemSenderId is the participant whose messages the inbox ignores.
	SystemSenderId int64
	MaxOpenConns   int
	LogLevel       logrus.Level
}

func NewConfig(serverAddr, databaseDSN string, allowedOrigins []string, systemSenderId int64) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if len(allowedOrigins) == 0 {
		return nil, fmt.Errorf("allowed origins cannot be empty")
	}
	if systemSenderId <= 0 {
		return nil, fmt.Errorf("system sender id must be positive")
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		AllowedOrigins: allowedOrigins,
		SystemSenderId: systemSenderId,
		LogLevel:       logrus.InfoLevel,
	}, nil
}

// LoadDotEnv loads variables from the given files (".env" when none are
// given) without overriding the existing environment. Missing files are
// not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	return nil
}

func Getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func GetenvInt(key string, fallback int) int {
	v, err := strconv.Atoi(Getenv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// DSNFromEnv returns DATABASE_URL, or builds a Postgres URL from the DB_*
// variables. It returns fallback when neither is set.
func DSNFromEnv(fallback string) string {
	if dsn := Getenv("DATABASE_URL", ""); dsn != "" {
		return dsn
	}

	host := Getenv("DB_HOST", "")
	if host == "" {
		return fallback
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + Getenv("DB_PORT", "5432"),
		Path:   "/" + Getenv("DB_DATABASE", "postgres"),
	}

	if user := Getenv("DB_USERNAME", ""); user != "" {
		if pass, ok := os.LookupEnv("DB_PASSWORD"); ok {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := url.Values{}
	q.Set("sslmode", Getenv("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()

	return u.String()
}

func SplitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func ParseLogLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(s)
}

func DefaultSystemSenderId() int64 {
	v, err := strconv.ParseInt(Getenv("SYSTEM_SENDER_ID", ""), 10, 64)
	if err != nil || v <= 0 {
		return defaultSystemSenderId
	}
	return v
}

// AllowsAnyOrigin reports whether the wildcard origin is configured.
func (c *Config) AllowsAnyOrigin() bool {
	return slices.Contains(c.AllowedOrigins, "*")
}
