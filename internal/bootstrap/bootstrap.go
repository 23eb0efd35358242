// Package bootstrap opens the process-wide adapters and builds the services
// every binary shares.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"checkin_messenger/internal/adapters/ical"
	"checkin_messenger/internal/adapters/rabbitmq"
	redisad "checkin_messenger/internal/adapters/redis"
	"checkin_messenger/internal/adapters/whatsapp"
	"checkin_messenger/internal/app"
	"checkin_messenger/internal/domain"
	"checkin_messenger/internal/shared"
	mysqlrepo "checkin_messenger/internal/storage/mysql"
)

type App struct {
	Cfg      shared.Config
	Loc      *time.Location
	Repo     *mysqlrepo.Repo
	Dispatch *app.DispatchService
	Bulk     *app.BulkService
	Messages *app.MessageQueryService

	db     *sql.DB
	rdb    *redis.Client
	rabbit *rabbitmq.Publisher
}

// Open connects MySQL, Redis and (when configured) RabbitMQ and wires the
// orchestrators onto them. Close releases everything Open acquired.
func Open(ctx context.Context, cfg shared.Config) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}
	a := &App{Cfg: cfg, Loc: loc}

	a.db, err = sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := a.db.PingContext(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	log.Info().Msg("database connection ok")
	a.Repo = mysqlrepo.New(a.db)

	a.rdb = redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	cache := redisad.New(a.rdb)
	ledger := redisad.NewLedger(a.rdb, cfg.LedgerLease, cfg.LedgerTTL)

	gw, err := whatsapp.New(cfg.WhatsAppBase, cfg.WhatsAppKey, cfg.WhatsAppPhoneID, cfg.WhatsAppRPS)
	if err != nil {
		a.Close()
		return nil, err
	}

	var pub domain.OutcomePublisher
	if cfg.RabbitURL != "" {
		a.rabbit, err = rabbitmq.New(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		pub = a.rabbit
	} else {
		log.Info().Msg("RABBITMQ_URL empty, outcome events disabled")
	}

	a.Dispatch = app.NewDispatchService(app.DispatchDeps{
		Registry:  a.Repo,
		Calendar:  ical.New(loc, cfg.CalendarRPS),
		Gateway:   gw,
		Ledger:    ledger,
		Messages:  a.Repo,
		Publisher: pub,
	}, app.DispatchConfig{
		Workers:         cfg.Workers,
		DefaultTemplate: cfg.DefaultTemplate,
		Language:        cfg.DefaultLanguage,
		CalendarTimeout: cfg.CalendarTimeout,
		GatewayTimeout:  cfg.GatewayTimeout,
	})
	a.Bulk = app.NewBulkService(gw, pub, app.BulkConfig{
		Workers:         cfg.Workers,
		DefaultLanguage: cfg.DefaultLanguage,
		GatewayTimeout:  cfg.GatewayTimeout,
	})
	a.Messages = app.NewMessageQueryService(a.Repo, cache, cfg.CacheTTL)
	return a, nil
}

func (a *App) Close() {
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			log.Warn().Err(err).Msg("rabbitmq close")
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
