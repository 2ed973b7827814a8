package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"riskwatch/internal/alarm"
	"riskwatch/internal/api"
	"riskwatch/internal/config"
	"riskwatch/internal/exchange"
	"riskwatch/internal/monitor"
	"riskwatch/internal/pubsub"
	"riskwatch/internal/repository"
	"riskwatch/internal/service"
	"riskwatch/internal/websocket"
	"riskwatch/pkg/crypto"
	"riskwatch/pkg/ratelimit"
	"riskwatch/pkg/routine"
	"riskwatch/pkg/utils"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer logger.Sync()
	lg := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg)
	if err != nil {
		lg.Fatal("failed to connect to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()), utils.Err(err))
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		lg.Fatal("failed to migrate schema", utils.Err(err))
	}
	lg.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Redis: pub/sub между инстансами и счётчики rate limit
	var (
		rdb      *redis.Client
		broker   pubsub.Broker
		attempts ratelimit.AttemptStore
	)
	if cfg.Redis.Enabled() {
		rdb, err = initRedis(ctx, cfg.Redis)
		if err != nil {
			lg.Fatal("failed to connect to redis", utils.String("addr", cfg.Redis.Addr), utils.Err(err))
		}
		defer rdb.Close()
		broker = pubsub.NewRedisBroker(rdb)
		attempts = ratelimit.NewRedisStore(rdb)
	} else {
		lg.Info("redis not configured, using in-process broker and rate limit store")
		broker = pubsub.NewMemoryBroker()
		attempts = ratelimit.NewMemoryStore()
	}
	defer broker.Close()

	gate := ratelimit.NewGate(attempts, ratelimit.WithErrorHandler(func(key string, err error) {
		lg.Warn("rate limit store unavailable, allowing attempt", utils.String("key", key), utils.Err(err))
	}))

	// Инициализация репозиториев
	profileRepo := repository.NewProfileRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	dailyPnLRepo := repository.NewDailyPnLRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)

	cipher, err := crypto.NewCredentialCipher([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		lg.Fatal("invalid encryption key", utils.Err(err))
	}

	exchangeHTTP := newExchangeHTTPClient(cfg.Exchange)
	client := exchange.NewBinance(exchangeHTTP, binanceConfig(cfg.Exchange))

	// Сирены: изменения состояния уходят в дашборды пользователя
	relay := newAlarmRelay(ctx, broker)
	alarms := alarm.NewManager(alarmSessions(cfg.Alarm), alarm.Config{
		SampleRate:    cfg.Alarm.SampleRate,
		ChunkDuration: 100 * time.Millisecond,
	}, relay.onStatus)

	// Уведомления администратора
	var (
		adminNotifier service.AdminNotifier
		kafkaNotifier *service.KafkaAdminNotifier
	)
	if cfg.Kafka.Enabled() {
		kafkaNotifier = service.NewKafkaAdminNotifier(cfg.Kafka.Brokers, cfg.Kafka.AdminTopic)
		adminNotifier = kafkaNotifier
	} else {
		adminNotifier = service.NewLogAdminNotifier()
	}
	dispatcher := service.NewAdminDispatcher(adminNotifier, cfg.Kafka.NotifyTimeout)

	// Инициализация сервисов
	notificationService := service.NewNotificationService(notificationRepo, broker)
	profileService := service.NewProfileService(profileRepo, dispatcher)
	alertService := service.NewAlertService(alertRepo, profileRepo, alarms)
	accountService := service.NewAccountService(accountRepo, cipher, client)
	accountService.SetAdminDispatcher(dispatcher)

	// Планировщик: живой опрос, сверка, напоминания о продлении
	scheduler := monitor.NewScheduler(monitorConfig(cfg.Monitor), monitor.Deps{
		Client:        client,
		Profiles:      profileRepo,
		Alerts:        alertRepo,
		Accounts:      accountRepo,
		Credentials:   accountService,
		DailyPnL:      dailyPnLRepo,
		Subscriptions: subscriptionRepo,
		Notifier:      notificationService,
		Alarm:         alarms,
	})
	scheduler.SetStatusListener(func(st monitor.PollerStatus) {
		if err := pubsub.PublishEvent(ctx, broker, st.UserID, pubsub.EventMonitor, st); err != nil {
			lg.Debug("monitor status publish failed", utils.UserID(st.UserID), utils.Err(err))
		}
	})
	accountService.SetPollerControl(scheduler)

	if err := scheduler.Start(ctx); err != nil {
		lg.Fatal("failed to start scheduler", utils.Err(err))
	}

	// WebSocket hub
	hub := websocket.NewHub()
	hub.SetSnapshot(func(userID string) interface{} {
		snap := map[string]interface{}{"alarm": alarms.Status(userID)}
		if st, ok := scheduler.Status(userID); ok {
			snap["monitor"] = st
		}
		return snap
	})
	go hub.Run()
	go func() {
		if err := hub.Consume(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("websocket hub stopped consuming events", utils.Err(err))
		}
	}()

	// Фоновые задачи сервиса
	background := routine.NewManager(ctx)
	if err := background.Run("notification-cleanup", notificationCleanup(notificationService, cfg.Notifications)); err != nil {
		lg.Fatal("failed to start notification cleanup", utils.Err(err))
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		ProfileService:      profileService,
		AccountService:      accountService,
		AlertService:        alertService,
		NotificationService: notificationService,
		Monitor:             scheduler,
		Reconciler:          scheduler.Reconciler(),
		Hub:                 hub,
		OriginChecker:       websocket.NewOriginChecker(cfg.Server.AllowedOrigins),
		AdminTokenHash:      cfg.Security.AdminTokenHash,
		AdminGate:           gate,
		CORSOrigins:         cfg.Server.AllowedOrigins,
	})

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		lg.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server failed", utils.Err(err))
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", utils.Err(err))
	}

	// Сначала опрос, затем сирены: опрос может поднять сирену
	scheduler.Stop()
	background.ShutdownAll()
	alarms.CloseAll()
	hub.Stop()
	dispatcher.Wait()
	exchange.CloseIdle(exchangeHTTP)

	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			lg.Warn("kafka writer close failed", utils.Err(err))
		}
	}

	lg.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initRedis создает клиент Redis и проверяет соединение
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func newExchangeHTTPClient(cfg config.ExchangeConfig) *http.Client {
	hc := exchange.DefaultHTTPClientConfig()
	hc.TotalTimeout = cfg.RequestTimeout
	return exchange.NewHTTPClient(hc)
}

func binanceConfig(cfg config.ExchangeConfig) exchange.BinanceConfig {
	bc := exchange.DefaultBinanceConfig()
	bc.FuturesURL = cfg.FuturesURL
	bc.DeliveryURL = cfg.DeliveryURL
	bc.RecvWindow = cfg.RecvWindow
	bc.RequestsPerSecond = cfg.RequestsPerSecond
	bc.Burst = cfg.Burst
	bc.Retry.MaxAttempts = cfg.MaxRetries
	bc.RealizedRefresh = cfg.RealizedRefresh
	return bc
}

func monitorConfig(cfg config.MonitorConfig) monitor.Config {
	return monitor.Config{
		PollInterval:      cfg.PollInterval,
		PollTimeout:       cfg.PollTimeout,
		MaxInFlight:       cfg.MaxInFlight,
		RefreshInterval:   cfg.RefreshInterval,
		KillSwitchTimeout: cfg.KillSwitchTimeout,

		ReconcileInterval:    cfg.ReconcileInterval,
		ReconcileWindowDays:  cfg.ReconcileWindowDays,
		ReconcileParallelism: cfg.ReconcileParallelism,

		RenewalInterval:    cfg.RenewalInterval,
		RenewalLeadTime:    cfg.RenewalLeadTime,
		RenewalDedupWindow: cfg.RenewalDedupWindow,
	}
}

// alarmSessions - PCM в файл/FIFO, если задан, иначе беззвучные сессии
func alarmSessions(cfg config.AlarmConfig) alarm.SessionFactory {
	if cfg.PCMOutput == "" {
		return alarm.NullFactory()
	}
	return alarm.SessionFactoryFunc(func(_ context.Context, _ int) (alarm.AudioSession, error) {
		f, err := os.OpenFile(cfg.PCMOutput, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open pcm output: %w", err)
		}
		return alarm.NewPCMSession(f), nil
	})
}

// alarmRelay рассылает состояние сирен в дашборды и ведёт метрику поднятых сирен
type alarmRelay struct {
	ctx    context.Context
	broker pubsub.Broker

	mu     sync.Mutex
	active map[string]struct{}
}

func newAlarmRelay(ctx context.Context, broker pubsub.Broker) *alarmRelay {
	return &alarmRelay{ctx: ctx, broker: broker, active: make(map[string]struct{})}
}

func (r *alarmRelay) onStatus(st alarm.Status) {
	r.mu.Lock()
	if st.State == alarm.StateIdle {
		delete(r.active, st.UserID)
	} else {
		r.active[st.UserID] = struct{}{}
	}
	monitor.ActiveAlarms.Set(float64(len(r.active)))
	r.mu.Unlock()

	if err := pubsub.PublishEvent(r.ctx, r.broker, st.UserID, pubsub.EventAlarm, st); err != nil {
		utils.L().Debug("alarm status publish failed", utils.UserID(st.UserID), utils.Err(err))
	}
}

// notificationCleanup периодически удаляет уведомления старше срока хранения
func notificationCleanup(svc *service.NotificationService, cfg config.NotificationConfig) routine.Handler {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := svc.Cleanup(ctx, cfg.Retention); err != nil {
					utils.L().Warn("notification cleanup failed", utils.Err(err))
				}
			}
		}
	}
}
