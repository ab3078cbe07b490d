package bootstrap

import (
	"context"
	"log"
	"time"

	"ai-relay-be/internal/config"
	"ai-relay-be/internal/controller"
	"ai-relay-be/internal/handler"
	"ai-relay-be/internal/pkg/logger"
	"ai-relay-be/internal/pkg/mailer"
	"ai-relay-be/internal/repository/memory"
	"ai-relay-be/internal/repository/unitofwork"
	"ai-relay-be/internal/service"
	"ai-relay-be/internal/websocket"
	"ai-relay-be/pkg/backup"
	"ai-relay-be/pkg/relay/cipher"
	"ai-relay-be/pkg/relay/correlator"
	"ai-relay-be/pkg/relay/fallback"
	"ai-relay-be/pkg/relay/metrics"
	"ai-relay-be/pkg/relay/registry"
	"ai-relay-be/pkg/relay/transport"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatController  controller.IChatController
	AdminController controller.IAdminController

	// Background services (exposed for main.go to run)
	ReceiveService  service.IReceiveService
	NotifierService service.INotifierService
	SessionService  service.ISessionService

	// WebSockets
	EventsHandler *handler.EventsHandler
	WebSocketHub  *websocket.Hub
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	relayKey, err := cipher.ParseKeyHex(cfg.Relay.PSKHex)
	if err != nil {
		log.Fatalf("[FATAL] Invalid RELAY_PSK_HEX: %v", err)
	}

	alertService := mailer.NewAlertService(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Email,
		cfg.SMTP.Password,
		cfg.SMTP.Email,
	)

	// 2. Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. Transport
	var adapter transport.Adapter
	if cfg.App.NatsURL != "" {
		natsAdapter, err := transport.NewNatsAdapter(cfg.App.NatsURL, cfg.Relay.ChannelPrefix)
		if err != nil {
			log.Fatalf("[FATAL] Failed to connect transport: %v", err)
		}
		adapter = natsAdapter
		log.Printf("[INFO] Using NATS transport at %s (prefix %q)", cfg.App.NatsURL, cfg.Relay.ChannelPrefix)
	} else {
		adapter = transport.NewLoopback()
		log.Printf("[WARN] NATS_URL empty, using in-memory loopback transport")
	}

	// 4. Relay core
	sessionRepo := memory.NewSessionRepository()
	reg := registry.New(uowFactory, sessionRepo, adapter)
	corr := correlator.New()
	collector := metrics.NewCollector()
	generator := fallback.New(cfg.Relay.FallbackType)
	intake := &service.IntakeGate{}
	backups := backup.NewWriter(cfg.Relay.BackupDir, relayKey)

	// 5. Redis (websocket fan-out across instances)
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger("logs/events.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 6. Services
	maxIdle := time.Duration(cfg.Relay.SessionIdleMinutes) * time.Minute
	responseTimeout := time.Duration(cfg.Relay.ResponseTimeoutSeconds) * time.Second

	publisher := service.NewEventPublisher(pubSub, sysLogger)

	relayService := service.NewRelayService(
		uowFactory,
		reg,
		corr,
		adapter,
		generator,
		publisher,
		intake,
		sysLogger,
		relayKey,
		responseTimeout,
		cfg.Relay.FallbackEnabled,
	)
	sessionService := service.NewSessionService(uowFactory, reg, sysLogger, maxIdle)
	receiveService := service.NewReceiveService(adapter, corr, collector, sysLogger, relayKey)
	notifierService := service.NewNotifierService(pubSub, wsHub, alertService, cfg.Relay.AdminAlertEmail, wsLogger)
	adminService := service.NewAdminService(
		uowFactory,
		reg,
		collector,
		corr,
		intake,
		publisher,
		backups,
		sysLogger,
		maxIdle,
	)

	eventsHandler := handler.NewEventsHandler(wsHub, wsLogger)

	return &Container{
		ChatController:  controller.NewChatController(sessionService, relayService),
		AdminController: controller.NewAdminController(adminService),

		ReceiveService:  receiveService,
		NotifierService: notifierService,
		SessionService:  sessionService,

		EventsHandler: eventsHandler,
		WebSocketHub:  wsHub,
	}
}
