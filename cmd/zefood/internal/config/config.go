package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	zlog "github.com/fclebinho/zefood.app.customer/log"
)

type AppConfig struct {
	APIBaseURL    string
	SocketBaseURL string
	AuthToken     string

	StoragePath      string
	PageSize         int
	PaymentWorkers   int
	HistoryRetention time.Duration

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	FallbackAfter     time.Duration

	LogLevel      string
	LogFormatJSON bool
	LogComponents []string
	DiagLog       bool
}

func DefaultConfig() AppConfig {
	return AppConfig{
		StoragePath:       "zefood.sqlite3",
		PageSize:          50,
		PaymentWorkers:    2,
		HistoryRetention:  30 * 24 * time.Hour,
		ReconnectAttempts: 10,
		ReconnectDelay:    time.Second,
		FallbackAfter:     3 * time.Second,
		LogLevel:          "info",
		LogFormatJSON:     false,
	}
}

// NewConfigFlagSet declares the flags against the provided struct but does not parse.
func NewConfigFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("zefood", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "REST API base URL (env: ZEFOOD_API_URL)")
	fs.StringVar(&cfg.SocketBaseURL, "socket-url", cfg.SocketBaseURL, "Socket base URL, namespaces are appended (env: ZEFOOD_SOCKET_URL)")
	fs.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "Bearer token for REST and socket auth (env: ZEFOOD_AUTH_TOKEN)")

	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "Sqlite journal path (env: ZEFOOD_STORAGE_PATH)")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Orders list page size (env: ZEFOOD_PAGE_SIZE)")
	fs.IntVar(&cfg.PaymentWorkers, "payment-workers", cfg.PaymentWorkers, "Number of payment polling workers (env: ZEFOOD_PAYMENT_WORKERS)")
	fs.DurationVar(&cfg.HistoryRetention, "history-retention", cfg.HistoryRetention, "Retention window for the status history journal (env: ZEFOOD_HISTORY_RETENTION)")

	fs.IntVar(&cfg.ReconnectAttempts, "reconnect-attempts", cfg.ReconnectAttempts, "Socket reconnect attempts before giving up (env: ZEFOOD_RECONNECT_ATTEMPTS)")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay between socket reconnect attempts (env: ZEFOOD_RECONNECT_DELAY)")
	fs.DurationVar(&cfg.FallbackAfter, "tracking-fallback-after", cfg.FallbackAfter, "How long tracking waits for data before re-fetching over REST (env: ZEFOOD_TRACKING_FALLBACK_AFTER)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: ZEFOOD_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogFormatJSON, "log-json", cfg.LogFormatJSON, "Emit logs as JSON (env: ZEFOOD_LOG_JSON)")
	fs.StringSliceVar(&cfg.LogComponents, "log-components", cfg.LogComponents, "Only emit logs from these components, e.g. socket,tracking (env: ZEFOOD_LOG_COMPONENTS)")
	fs.BoolVar(&cfg.DiagLog, "diag-log", cfg.DiagLog, "Persist diagnostic logs into the sqlite journal (env: ZEFOOD_DIAG_LOG)")

	return fs
}

// ApplyEnvDefaults inspects flags that were left at their zero value and pulls from env.
func ApplyEnvDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	flagSet := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { flagSet[f.Name] = struct{}{} })

	setString := func(name, envKey string, target *string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = v
		}
	}
	setInt := func(name, envKey string, target *int) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				*target = parsed
			}
		}
	}
	setBool := func(name, envKey string, target *bool) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*target = parsed
			}
		}
	}
	setDuration := func(name, envKey string, target *time.Duration) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := time.ParseDuration(v); err == nil {
				*target = parsed
			}
		}
	}
	setStrings := func(name, envKey string, target *[]string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = strings.Split(v, ",")
		}
	}

	setString("api-url", "ZEFOOD_API_URL", &cfg.APIBaseURL)
	setString("socket-url", "ZEFOOD_SOCKET_URL", &cfg.SocketBaseURL)
	setString("auth-token", "ZEFOOD_AUTH_TOKEN", &cfg.AuthToken)

	setString("storage-path", "ZEFOOD_STORAGE_PATH", &cfg.StoragePath)
	setInt("page-size", "ZEFOOD_PAGE_SIZE", &cfg.PageSize)
	setInt("payment-workers", "ZEFOOD_PAYMENT_WORKERS", &cfg.PaymentWorkers)
	setDuration("history-retention", "ZEFOOD_HISTORY_RETENTION", &cfg.HistoryRetention)

	setInt("reconnect-attempts", "ZEFOOD_RECONNECT_ATTEMPTS", &cfg.ReconnectAttempts)
	setDuration("reconnect-delay", "ZEFOOD_RECONNECT_DELAY", &cfg.ReconnectDelay)
	setDuration("tracking-fallback-after", "ZEFOOD_TRACKING_FALLBACK_AFTER", &cfg.FallbackAfter)

	setString("log-level", "ZEFOOD_LOG_LEVEL", &cfg.LogLevel)
	setBool("log-json", "ZEFOOD_LOG_JSON", &cfg.LogFormatJSON)
	setStrings("log-components", "ZEFOOD_LOG_COMPONENTS", &cfg.LogComponents)
	setBool("diag-log", "ZEFOOD_DIAG_LOG", &cfg.DiagLog)

	return nil
}

func ValidateConfig(cfg AppConfig) error {
	var missing []string
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		missing = append(missing, "api-url")
	}
	if strings.TrimSpace(cfg.SocketBaseURL) == "" {
		missing = append(missing, "socket-url")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		missing = append(missing, "auth-token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func GetLogHandler(cfg AppConfig) slog.Handler {
	var level slog.Level
	if cfg.LogLevel == "" {
		level = slog.LevelInfo
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
		log.Printf("unknown log level %q, defaulting to info", cfg.LogLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	return zlog.NewComponentFilterHandler(handler, cfg.LogComponents)
}

// OrdersSocketURL returns the orders namespace endpoint.
func (c AppConfig) OrdersSocketURL() string {
	return strings.TrimRight(c.SocketBaseURL, "/") + "/orders"
}

// TrackingSocketURL returns the tracking namespace endpoint.
func (c AppConfig) TrackingSocketURL() string {
	return strings.TrimRight(c.SocketBaseURL, "/") + "/tracking"
}
