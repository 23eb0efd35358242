package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	RabbitURL   string
	RabbitQueue string

	WhatsAppBase    string
	WhatsAppKey     string
	WhatsAppPhoneID string
	WhatsAppRPS     int
	CalendarRPS     int

	DefaultTemplate string
	DefaultLanguage string
	Timezone        string

	Workers         int
	CalendarTimeout time.Duration
	GatewayTimeout  time.Duration
	LedgerTTL       time.Duration
	LedgerLease     time.Duration
	CacheTTL        time.Duration
	SchedulerTick   time.Duration
	RunTimeout      time.Duration
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg(".env could not be read")
	}
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("not a number, using default")
		}
		return def
	}
	secs := func(k string, def int) time.Duration { return time.Duration(atoi(k, def)) * time.Second }

	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/checkin?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		RabbitURL:   env("RABBITMQ_URL", ""),
		RabbitQueue: env("RABBITMQ_QUEUE", "checkin.outcomes"),

		WhatsAppBase:    env("WHATSAPP_BASE_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppKey:     env("WHATSAPP_API_KEY", ""),
		WhatsAppPhoneID: env("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppRPS:     atoi("WHATSAPP_RPS", 20),
		CalendarRPS:     atoi("CALENDAR_RPS", 10),

		DefaultTemplate: env("DEFAULT_TEMPLATE", "oberth"),
		DefaultLanguage: env("DEFAULT_LANGUAGE", "ro"),
		Timezone:        env("TIMEZONE", "UTC"),

		Workers:         atoi("DISPATCH_WORKERS", 8),
		CalendarTimeout: secs("CALENDAR_TIMEOUT_SECONDS", 10),
		GatewayTimeout:  secs("GATEWAY_TIMEOUT_SECONDS", 10),
		LedgerTTL:       time.Duration(atoi("LEDGER_TTL_HOURS", 72)) * time.Hour,
		LedgerLease:     secs("LEDGER_LEASE_SECONDS", 60),
		CacheTTL:        secs("CACHE_TTL_SECONDS", 300),
		SchedulerTick:   secs("SCHEDULER_TICK_SECONDS", 60),
		RunTimeout:      secs("RUN_TIMEOUT_SECONDS", 300),
	}
	if c.WhatsAppKey == "" {
		log.Warn().Msg("WHATSAPP_API_KEY is empty")
	}
	return c
}

// Location resolves TIMEZONE. It decides what "today" means for every run.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
