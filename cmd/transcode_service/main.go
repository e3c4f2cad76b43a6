package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video_transcoding_service/internal/transcoding/api"
	"video_transcoding_service/internal/transcoding/app"
	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/encoder"
	"video_transcoding_service/internal/transcoding/playlist"
	"video_transcoding_service/internal/transcoding/quality"
	"video_transcoding_service/internal/transcoding/repository"
	"video_transcoding_service/internal/transcoding/retry"
	"video_transcoding_service/pkg/config"
	"video_transcoding_service/pkg/database"
	"video_transcoding_service/pkg/logger"
	testtool "video_transcoding_service/pkg/test_tool"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.TranscodeService, config.EnvConfig.TranscodeServiceLogPath)
	defer logger.Log.Sync()
	logger.Log.SetDebugMode(config.IsLocal())

	cfg, err := config.LoadConfig[config.TranscodeService](config.EnvConfig.TranscodeService, config.EnvConfig.TranscodeServiceYAMLPath)
	if err != nil {
		logger.Log.Fatal("Unable to load config", zap.Error(err))
	}
	cfg.ApplyDefaults()
	if config.EnvConfig.TranscodeServicePort != "" {
		cfg.Port = config.EnvConfig.TranscodeServicePort
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = workerID()
	}
	logger.Log = logger.Log.With(zap.String("worker_id", cfg.WorkerID))

	testtool.StartPprof("")

	// 1. redis: status store, leases, heartbeat
	if cfg.Redis.MasterName == "" && len(cfg.Redis.SentinelAddrs) == 0 {
		cfg.Redis.MasterName, cfg.Redis.SentinelAddrs = config.GetRedisSetting()
	}
	redisConn := database.RedisConnection{
		Addr:          cfg.Redis.Addr,
		MasterName:    cfg.Redis.MasterName,
		SentinelAddrs: cfg.Redis.SentinelAddrs,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.RedisDB,
		RetryCount:    cfg.Redis.RetryCount,
		RetryInterval: time.Duration(cfg.Redis.RetryInterval),
	}
	redisClient, err := database.NewRedisClient(redisConn)
	if err != nil {
		// the pool preflight keeps the worker unhealthy until redis answers
		logger.Log.Error("redis unreachable at startup, continuing unhealthy", zap.String("address", cfg.Redis.Addr), zap.Error(err))
		redisClient = database.NewRedisUniversalClient(redisConn)
	}
	defer redisClient.Close()

	// 2. rabbitmq job queue, dialed by the pool preflight
	rabbitURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port)
	queue := repository.NewRabbitJobQueue(database.Connection{
		ConnectStr:    rabbitURL,
		RetryCount:    cfg.RabbitMQ.RetryCount,
		RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
	}, cfg.RabbitMQ.Queue, cfg.RabbitMQ.ConsumerTimeout)
	defer queue.Close()

	lease := repository.NewLeaseRepo(redisClient)
	policy := retry.NewPolicy(cfg.Policy.Retry)
	deps := app.Deps{
		Status:    repository.NewStatusRepo(redisClient, cfg.Policy.StatusTTL),
		Queue:     queue,
		Lease:     lease,
		Heartbeat: lease,
		Encoder: encoder.NewDriver(nil, encoder.Options{
			FFmpegPath:      cfg.Encoder.FFmpegPath,
			FFprobePath:     cfg.Encoder.FFprobePath,
			SegmentDuration: cfg.Encoder.SegmentDuration,
			GOPSize:         cfg.Encoder.GOPSize,
			AudioBitrate:    cfg.Encoder.AudioBitrate,
			Preset:          cfg.Encoder.Preset,
			Timeout:         cfg.Encoder.Timeout,
		}),
		Resolver:   quality.NewResolver(cfg.Policy.UpscaleTolerance),
		Validator:  playlist.NewValidator(),
		Classifier: retry.NewClassifier(policy),
		History:    retry.NewHistory(cfg.Policy.HistorySize, 0),
	}

	// 3. optional sinks
	if cfg.Kafka.Enabled {
		writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: time.Duration(cfg.Kafka.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("Unable to reach kafka after retries", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
		events := repository.NewKafkaEventPublisher(writer)
		defer events.Close()
		deps.Events = events
	}

	if cfg.MinIO.Enabled {
		minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
			Endpoint:      fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
			User:          cfg.MinIO.User,
			Password:      cfg.MinIO.Password,
			BucketName:    cfg.MinIO.BucketName,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: time.Duration(cfg.MinIO.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to minio after retries", zap.String("host", cfg.MinIO.Host), zap.Error(err))
		}
		deps.Output = repository.NewMinIOOutputPublisher(minioClient, cfg.MinIO.Prefix)
	}

	if cfg.PostgreSQL.Enabled {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
			cfg.PostgreSQL.Host, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database, cfg.PostgreSQL.Port)
		db, err := database.NewPGConnection(database.Connection{
			ConnectStr:    dsn,
			RetryCount:    cfg.PostgreSQL.RetryCount,
			RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to postgreSQL database after retries",
				zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
		}
		records := repository.NewJobRecordRepo(db)
		if err := records.AutoMigrate(); err != nil {
			logger.Log.Fatal("job record migration failed", zap.Error(err))
		}
		deps.Records = records
	}

	// 4. worker pool and HTTP surface
	catalog := catalogFrom(cfg.Qualities)
	pool, err := app.NewPool(app.PoolConfig{
		WorkerID:           cfg.WorkerID,
		Concurrency:        cfg.Concurrency,
		ReconnectInterval:  cfg.ReconnectInterval,
		LeaseTTL:           cfg.Policy.LeaseTTL,
		LeaseRetryDelay:    cfg.Policy.LeaseRetryDelay,
		HeartbeatInterval:  cfg.Heartbeat.Interval,
		HeartbeatThreshold: cfg.Heartbeat.Threshold,
		ProgressInterval:   cfg.Encoder.ProgressInterval,
		Catalog:            catalog,
	}, deps)
	if err != nil {
		logger.Log.Fatal("worker pool setup failed", zap.Error(err))
	}

	usecase := app.NewTranscodeUseCase(deps, pool, catalog)
	server := api.NewApp(&api.TranscodeHandler{Usecase: usecase})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolDone := make(chan error, 1)
	go func() {
		poolDone <- pool.Run(ctx)
	}()

	go func() {
		addr := cfg.IP + ":" + cfg.Port
		logger.Log.Info("transcode_service HTTP listening", zap.String("addr", addr))
		if err := server.Listen(addr); err != nil {
			logger.Log.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down")

	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Log.Warn("HTTP shutdown failed", zap.Error(err))
	}
	if err := <-poolDone; err != nil {
		logger.Log.Error("worker pool stopped with error", zap.Error(err))
	}
}

// workerID hostname plus a random suffix, unique per process
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func catalogFrom(qs []config.QualityConfig) []domain.QualityProfile {
	if len(qs) == 0 {
		return domain.DefaultCatalog()
	}
	out := make([]domain.QualityProfile, 0, len(qs))
	for _, q := range qs {
		p := domain.QualityProfile{
			Name:       q.Name,
			Resolution: domain.Resolution{Width: q.Width, Height: q.Height},
			Bitrate:    q.Bitrate,
			FPS:        q.FPS,
		}
		if err := p.Validate(); err != nil {
			logger.Log.Fatal("invalid quality in config", zap.String("quality", q.Name), zap.Error(err))
		}
		out = append(out, p)
	}
	return out
}
