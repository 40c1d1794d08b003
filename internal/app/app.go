// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, обработчики,
// guards и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/bot"
	"serotonyl.ru/karma-bot/internal/bot/guards"
	"serotonyl.ru/karma-bot/internal/bot/middleware"
	"serotonyl.ru/karma-bot/internal/config"
	"serotonyl.ru/karma-bot/internal/db/postgres"
	"serotonyl.ru/karma-bot/internal/delivery"
	"serotonyl.ru/karma-bot/internal/features/abuse"
	"serotonyl.ru/karma-bot/internal/features/admin"
	"serotonyl.ru/karma-bot/internal/features/identity"
	"serotonyl.ru/karma-bot/internal/features/karma"
	"serotonyl.ru/karma-bot/internal/features/ledger"
	"serotonyl.ru/karma-bot/internal/jobs"
	"serotonyl.ru/karma-bot/internal/metrics"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Queue     *delivery.Queue
	Metrics   *metrics.Server
	DB        *pgxpool.Pool
	BotAPI    *telego.Bot

	cooldown    *abuse.CooldownCache
	rateLimiter *middleware.RateLimiter
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	clock := clockwork.NewRealClock()

	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Telegram Bot API ===
	botAPI, err := telego.NewBot(cfg.TelegramBotToken, telego.WithLogger(log.StandardLogger()))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	me, err := botAPI.GetMe(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка авторизации в Telegram: %w", err)
	}
	log.Infof("Авторизован как @%s", me.Username)

	// === 3. Репозитории ===
	identityRepo := identity.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool, cfg.DBTxMaxAttempts)
	eventsRepo := abuse.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 4. Доставка ===
	sender := delivery.NewBreakerSender(delivery.NewTelegramSender(botAPI), delivery.BreakerConfig{
		ConsecutiveFailures: cfg.DeliveryBreakerFailures,
		OpenTimeout:         cfg.DeliveryBreakerTimeout,
	})
	queue := delivery.NewQueue(sender, clock, delivery.Config{
		BatchSize:   cfg.DeliveryBatchSize,
		Delay:       cfg.DeliveryBatchDelay,
		SendTimeout: cfg.DeliverySendTimeout,
	})

	// === 5. Сервисы ===
	identityService := identity.NewService(identityRepo)
	engine := ledger.NewEngine(ledgerRepo)
	gate := abuse.NewGate(eventsRepo, identityRepo, engine, clock, abuseConfig(cfg))
	cooldown := abuse.NewCooldownCache(clock, cfg.KarmaCooldown)
	karmaService := karma.NewService(identityService, engine, gate, cooldown)
	adminCfg := admin.DefaultConfig(cfg.AdminPasswordHash)
	adminCfg.SessionTTL = cfg.AdminSessionTTL
	adminService := admin.NewService(adminRepo, identityService, gate, engine, clock, adminCfg)

	// === 6. Обработчики ===
	karmaHandler := karma.NewHandler(karmaService, queue, clock, karma.HandlerConfig{
		TopLimit:         cfg.KarmaTopLimit,
		HistoryLimit:     cfg.KarmaHistoryLimit,
		TransfersEnabled: cfg.FeatureTransfersEnabled,
	})
	memberHandler := identity.NewHandler(identityService)

	var adminHandler bot.AdminHandler = disabledAdmin{}
	var sessions jobs.SessionExpirer
	if cfg.FeatureAdminEnabled {
		adminHandler = admin.NewHandler(adminService, queue, cfg.IsAdmin)
		sessions = adminService
	}

	// === 7. Собираем бота ===
	rateLimiter := middleware.NewRateLimiter(clock, cfg.RateLimitRequests, cfg.RateLimitWindow)
	b := bot.New(
		botAPI,
		bot.Options{
			MaxInflight:          cfg.BotMaxInflight,
			UpdateTimeoutSeconds: cfg.BotUpdateTimeoutSeconds,
		},
		karmaHandler,
		adminHandler,
		memberHandler,
		queue,
		rateLimiter,
		guards.KarmaChain(cooldown),
	)

	// === 8. Планировщик задач ===
	scheduler := jobs.NewScheduler(eventsRepo, sessions, clock, cfg.KarmaEventRetention)

	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
	}

	return &App{
		Bot:         b,
		Scheduler:   scheduler,
		Queue:       queue,
		Metrics:     metricsServer,
		DB:          pool,
		BotAPI:      botAPI,
		cooldown:    cooldown,
		rateLimiter: rateLimiter,
	}, nil
}

// Run запускает фоновые компоненты и бота; блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.Queue.Start(ctx)
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("ошибка запуска планировщика: %w", err)
	}
	if a.Metrics != nil {
		a.Metrics.Start()
	}
	return a.Bot.Start(ctx)
}

// Close останавливает всё в обратном порядке. Бот к этому моменту
// уже дождался своих обработчиков, так что очередь больше не пополняется.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Queue.Close()
	a.cooldown.Close()
	a.rateLimiter.Close()

	if a.Metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Metrics.Stop(ctx); err != nil {
			log.WithError(err).Warn("Ошибка остановки сервера метрик")
		}
	}
	a.DB.Close()
}

func abuseConfig(cfg *config.Config) abuse.Config {
	return abuse.Config{
		BurstWindow:    cfg.KarmaBurstWindow,
		BurstThreshold: cfg.KarmaBurstThreshold,
		DailyWindow:    cfg.KarmaDailyWindow,
		DailyThreshold: cfg.KarmaDailyThreshold,
		Penalty:        cfg.KarmaPenalty,
		BanDuration:    cfg.KarmaBanDuration,
	}
}

// disabledAdmin — заглушка при FEATURE_ADMIN_ENABLED=false.
type disabledAdmin struct{}

func (disabledAdmin) HandleAdminMessage(context.Context, *telego.Message) bool { return false }
