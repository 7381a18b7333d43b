package di

import (
	"context"
	"fmt"
	"time"

	"RegimePulse/internal/domain/models"
	"RegimePulse/internal/domain/repository"
	"RegimePulse/internal/handler/api"
	"RegimePulse/internal/hmm"
	mid "RegimePulse/internal/middleware"
	internalrepo "RegimePulse/internal/repository"
	"RegimePulse/internal/service/artifacts"
	"RegimePulse/internal/service/featurestream"
	"RegimePulse/internal/usecase"
	pkgcache "RegimePulse/pkg/cache"
	pkgch "RegimePulse/pkg/clickhouse"
	"RegimePulse/pkg/config"
	xhttp "RegimePulse/pkg/http"
	pkgkafka "RegimePulse/pkg/kafka"
	applogger "RegimePulse/pkg/logger"
	"RegimePulse/pkg/metrics"
	"RegimePulse/pkg/queue"
	"RegimePulse/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and initializes schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS regimepulse",
		`CREATE TABLE IF NOT EXISTS regimepulse.feature_bars (
			ts DateTime, symbol String, timeframe String,
			names Array(String), vals Array(Float64), has_gap UInt8
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, timeframe, ts)`,
		`CREATE TABLE IF NOT EXISTS regimepulse.regime_outputs (
			ts DateTime, symbol String, timeframe String, model_id String,
			state_id Int32, state_prob Float64, posterior Array(Float64),
			log_likelihood Float64, is_ood UInt8
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, timeframe, ts)`,
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideRedisCache creates the shared Redis cache service.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		pkgcache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideArtifactsStore creates the model artifact store rooted at config.
func ProvideArtifactsStore(cfg *config.Config) *artifacts.Store {
	return artifacts.NewStore(cfg.Models.Root)
}

// ProvideTimeframes parses the configured timeframe list.
func ProvideTimeframes(cfg *config.Config) ([]models.Timeframe, error) {
	tfs := make([]models.Timeframe, 0, len(cfg.Models.Timeframes))
	for _, raw := range cfg.Models.Timeframes {
		tf, err := models.ParseTimeframe(raw)
		if err != nil {
			return nil, fmt.Errorf("timeframes config: %w", err)
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}

// ProvideFeatureStore creates the ClickHouse feature bar repository.
func ProvideFeatureStore(chClient *pkgch.Client, lgr *applogger.Logger) repository.FeatureStore {
	store := internalrepo.NewCHFeatureStore(chClient)
	store.SetLogger(lgr)
	return store
}

// ProvideOutputStore creates the ClickHouse output repository.
func ProvideOutputStore(chClient *pkgch.Client) repository.OutputStore {
	return internalrepo.NewCHOutputStore(chClient)
}

// ProvidePublisher creates the Kafka output publisher.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.OutputsTopic)
}

// ProvideStateCache creates the latest-state cache: in-process L1 over
// Redis so hot Current reads skip the network.
func ProvideStateCache(rc *pkgcache.RedisCache) repository.StateCache {
	return internalrepo.NewRedisStateCache(pkgcache.NewLayeredCache(rc))
}

// ProvideRegimeService loads the latest model bundles and builds the
// central inference service.
func ProvideRegimeService(
	store *artifacts.Store,
	cfg *config.Config,
	tfs []models.Timeframe,
	outputs repository.OutputStore,
	pub repository.Publisher,
	stateCache repository.StateCache,
	features repository.FeatureStore,
	m repository.Metrics,
	lgr *applogger.Logger,
) (*usecase.RegimeService, error) {
	var engineOpts []hmm.EngineOption
	if cfg.Models.Engine.PSwitchThreshold > 0 {
		engineOpts = append(engineOpts, hmm.WithPSwitchThreshold(cfg.Models.Engine.PSwitchThreshold))
	}
	if cfg.Models.Engine.MinDwellBars > 0 {
		engineOpts = append(engineOpts, hmm.WithMinDwellBars(cfg.Models.Engine.MinDwellBars))
	}
	if cfg.Models.Engine.MajorityVoteWindow > 0 {
		engineOpts = append(engineOpts, hmm.WithMajorityVoteWindow(cfg.Models.Engine.MajorityVoteWindow))
	}

	return usecase.NewRegimeService(
		store,
		cfg.Models.Symbols,
		tfs,
		outputs,
		pub,
		stateCache,
		features,
		m,
		lgr,
		usecase.WithEngineOptions(engineOpts...),
	)
}

// ProvideKafkaBarsHandler registers the handler for the feature bars topic.
func ProvideKafkaBarsHandler(
	svc *usecase.RegimeService,
	features repository.FeatureStore,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.KafkaBarsHandler {
	return usecase.NewKafkaBarsHandler(cfg.Kafka.FeaturesTopic, svc, features, m)
}

// ProvideFeatureStream creates the upstream feature bar WebSocket stream.
func ProvideFeatureStream(cfg *config.Config, tfs []models.Timeframe) repository.FeatureStream {
	subs := make([]featurestream.Subscription, 0, len(cfg.Models.Symbols)*len(tfs))
	for _, sym := range cfg.Models.Symbols {
		for _, tf := range tfs {
			subs = append(subs, featurestream.Subscription{Symbol: sym, Timeframe: tf})
		}
	}
	return featurestream.New(
		cfg.Stream.APIKey,
		cfg.Stream.WebSocketURL,
		subs,
		cfg.Stream.ReconnectDelay,
		cfg.Stream.PingInterval,
	)
}

// ProvideBarCollector creates the live bar collector with its pipeline.
func ProvideBarCollector(
	stream repository.FeatureStream,
	svc *usecase.RegimeService,
	m repository.Metrics,
) *usecase.BarCollector {
	pipe := mid.NewRealtimePipeline(svc, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
	return usecase.NewBarCollector(stream, svc, m, pipe)
}

// ProvideBackfillQueue creates the Redis-backed backfill job queue. The
// same queue instance serves as the publisher for the HTTP handler.
func ProvideBackfillQueue(
	lgr *applogger.Logger,
	rc *pkgcache.RedisCache,
	svc *usecase.RegimeService,
	cfg *config.Config,
) *queue.RedisQueue {
	return queue.NewRedisConsumer(
		lgr,
		&queue.QueueConfig{
			Workers:    cfg.Backfill.Workers,
			QueueSize:  100,
			RetryLimit: cfg.Backfill.RetryMax,
			RetryDelay: 5 * time.Second,
		},
		rc.Client(),
		[]queue.Job{usecase.NewBackfillJob(svc, lgr)},
	)
}

// ProvideHTTPHandler creates the Echo route handler.
func ProvideHTTPHandler(
	lgr *applogger.Logger,
	svc *usecase.RegimeService,
	jobQueue *queue.RedisQueue,
) xhttp.Handler {
	return api.NewRegimesEchoHandler(lgr, svc, jobQueue)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBarsHandler,
	jobQueue *queue.RedisQueue,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	pub repository.Publisher,
	handler xhttp.Handler,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}

	// Aggregate repeated error logs and ship them to Kafka.
	lgr.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          "regimepulse.error-logs",
		Publisher:      internalrepo.NewLogPublisher(producer),
	})

	app := server.New(cfg, lgr, collector, consumer, kh, jobQueue, chClient, pub)
	app.SetHTTPHandler(handler)
	return app
}
