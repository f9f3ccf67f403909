package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"messaging-service/access"
	"messaging-service/audit"
	"messaging-service/blob"
	"messaging-service/cache"
	"messaging-service/config"
	"messaging-service/controller"
	"messaging-service/database"
	"messaging-service/event"
	"messaging-service/event/listener"
	"messaging-service/pipeline"
	"messaging-service/ratelimit"
	"messaging-service/router"
	"messaging-service/service"
	"messaging-service/socketio"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env", ".env", "dotenv file with connection settings")
	policyFile := pflag.String("policy", "", "YAML policy file (defaults when empty)")
	workers := pflag.Int("workers", 0, "attachment workers (policy value when 0)")
	pflag.Parse()

	config.SetEnvFile(*envFile)
	setupLogger()

	policy := config.DefaultPolicy()
	if *policyFile != "" {
		loaded, err := config.LoadPolicy(*policyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load policy")
		}
		policy = loaded
	}
	if *workers > 0 {
		policy.Pipeline.Workers = *workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.PostgresConnect()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}

	rdb, err := database.RedisConnect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}

	enforcer, err := database.Casbin(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize casbin")
	}

	store, err := openBlobStore()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open blob store")
	}

	queue, deliveries, closeQueue, err := openQueue(ctx, policy.Pipeline.Workers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open job queue")
	}

	recorder := audit.New(db, log.Logger, config.Int("AUDIT_BUFFER", 1024))
	accessKey := []byte(config.Config("JWT_ACCESS_KEY"))

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "messaging-service",
		BodyLimit:             1 << 20,
		ErrorHandler:          controller.ErrorHandler(log.Logger),
	})
	rest.Use(cors.New())

	hub := socketio.Init(rest, rdb[database.RedisSocket], accessKey, log.Logger)
	checker := access.NewChecker(db, enforcer)

	messages := cache.New(cache.Options{
		TTL:      policy.Cache.TTL,
		Capacity: policy.Cache.Capacity,
		Window:   policy.Cache.Window,
		Shards:   policy.Cache.Shards,
	})
	services := service.New(&service.Deps{
		DB:        db,
		Access:    checker,
		Cache:     messages,
		Audit:     recorder,
		Broadcast: hub,
		Jobs:      queue,
		Blob:      store,
		Policy:    policy,
		UploadKey: []byte(config.Config("UPLOAD_TOKEN_KEY")),
		Log:       log.Logger,
	})

	var locker pipeline.Locker = pipeline.NewLocalLocker()
	if client, ok := rdb[database.RedisLimiter]; ok {
		locker = pipeline.NewRedisLocker(client)
	}
	rps := config.Float("UPSTREAM_RPS", 5)
	timeout := config.Duration("UPSTREAM_TIMEOUT", 30*time.Second)
	processor := pipeline.NewProcessor(pipeline.Options{
		DB:        db,
		Blob:      store,
		Scanner:   pipeline.NewHTTPScanner(config.Config("SCAN_URL"), rps, timeout),
		Moderator: pipeline.NewHTTPModerator(config.Config("MODERATION_URL"), rps, timeout),
		Media:     pipeline.FFmpeg{Path: config.Default("FFMPEG_PATH", "ffmpeg")},
		Locker:    locker,
		Audit:     recorder,
		Cache:     messages,
		Policy:    policy,
		Log:       log.Logger.With().Str("component", "pipeline").Logger(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		listener.Run(ctx, deliveries, policy.Pipeline.Workers,
			pipeline.Handlers(processor, services.Attachments),
			log.Logger.With().Str("component", "listener").Logger())
	}()

	h := controller.New(controller.Options{
		Services:      services,
		Jobs:          queue,
		WebhookSecret: config.Config("WEBHOOK_SECRET"),
		Bucket:        policy.Upload.Bucket,
		Log:           log.Logger,
	})
	limiter := ratelimit.New(rdb[database.RedisLimiter], policy.RateLimit)
	router.Rest(rest, h, router.RestOptions{
		AccessKey: accessKey,
		Limiter:   limiter,
		Enforcer:  enforcer,
	})
	router.Socket(hub.Server(), router.SocketOptions{
		Services: services,
		Checker:  checker,
		Limiter:  limiter,
		Log:      log.Logger.With().Str("component", "socket").Logger(),
	})

	go func() {
		if err := rest.Listen(fmt.Sprintf(":%s", config.Default("SERVER_PORT", "8080"))); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()
	log.Info().Str("port", config.Default("SERVER_PORT", "8080")).Msg("messaging-service started")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signals

	log.Info().Msg("shutting down")
	if err := rest.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	hub.Close()
	cancel()
	<-done
	closeQueue()
	recorder.Close()
	for _, client := range rdb {
		client.Close()
	}
}

func setupLogger() {
	level, err := zerolog.ParseLevel(strings.ToLower(config.Default("LOG_LEVEL", "info")))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if config.Default("LOG_FORMAT", "json") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.Logger.With().Str("service", "messaging-service").Logger()
}

func openBlobStore() (blob.Store, error) {
	switch driver := config.Default("BLOB_DRIVER", "minio"); driver {
	case "minio":
		return blob.MinioConnect()
	case "memory":
		log.Warn().Msg("using in-memory blob store, objects are lost on restart")
		return blob.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown BLOB_DRIVER %q", driver)
	}
}

// openQueue connects the attachments job queue. QUEUE_DRIVER=local keeps jobs
// in process memory for single-node deployments.
func openQueue(ctx context.Context, prefetch int) (event.Queue, <-chan event.Delivery, func(), error) {
	if config.Default("QUEUE_DRIVER", "rabbitmq") == "local" {
		local := event.NewLocal(config.Int("QUEUE_BUFFER", 1024))
		return local, local.Deliveries(), local.Close, nil
	}

	mode := config.Default("EVENT_MODE", event.ModeDisable)
	var logs *event.Logs
	if mode != event.ModeDisable {
		opened, err := event.OpenLogs(event.InLogFile, event.OutLogFile)
		if err != nil {
			return nil, nil, nil, err
		}
		logs = opened
	}

	bus, err := event.RabbitMQConnect(event.RabbitMQURL(), []string{event.QueueAttachments}, logs, log.Logger)
	if err != nil {
		logs.Close()
		return nil, nil, nil, err
	}
	deliveries, err := bus.Subscribe(event.QueueAttachments, prefetch)
	if err != nil {
		bus.Close()
		logs.Close()
		return nil, nil, nil, err
	}
	go func() {
		if err := bus.Replay(ctx, mode); err != nil {
			log.Warn().Err(err).Str("mode", mode).Msg("event replay failed")
		}
	}()

	closeFn := func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("rabbitmq close")
		}
		logs.Close()
	}
	return bus, deliveries, closeFn, nil
}
