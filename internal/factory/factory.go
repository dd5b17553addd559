package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront-guard/internal/bucketing"
	"storefront-guard/internal/client"
	"storefront-guard/internal/config"
	"storefront-guard/internal/encryption"
	"storefront-guard/internal/fraudx"
	"storefront-guard/internal/hashing"
	"storefront-guard/internal/journal"
	"storefront-guard/internal/metrics"
	"storefront-guard/internal/otp"
	redisrepo "storefront-guard/internal/repository/redis"
	"storefront-guard/internal/repository/scylla"
	"storefront-guard/internal/riskmeta"
	"storefront-guard/internal/service"
	"storefront-guard/internal/simulation"
	"storefront-guard/internal/sms"
	"storefront-guard/internal/tls"
	"storefront-guard/internal/util"
)

const (
	initTimeout      = 30 * time.Second
	lockTTL          = 10 * time.Second
	observerTimeout  = 5 * time.Second
	serverUserAgent  = "storefront-guard"
	pingEventType    = "location_ping"
	fraudSignalEvent = "fraud_signal"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	// Domain components
	journal        *journal.MultiSink
	memoryJournal  *journal.MemorySink
	collector      *riskmeta.Collector
	ledger         *otp.Ledger
	fraudClient    *fraudx.Client
	scheduler      *simulation.Scheduler
	serviceFactory *service.ServiceFactory

	background context.Context
	stop       context.CancelFunc
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewFactory loads the configuration, initializes the global logger and
// builds every dependency.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return New(cfg, logger)
}

// New builds the dependency graph for cfg. External clients are only
// created for the backends the configuration enables.
func New(cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	bg, stop := context.WithCancel(context.Background())
	f := &Factory{
		config:     cfg,
		logger:     logger,
		background: bg,
		stop:       stop,
		closed:     make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server, logger.Named("tls"))
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeManagers(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := f.initializeJournal(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}
	if err := f.initializeLedger(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize otp ledger: %w", err)
	}
	f.initializeSimulation()

	f.serviceFactory = service.NewServiceFactory(f.ledger, f.scheduler, f.collector, logger.Named("service"))

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("otp_store", cfg.OTP.Store),
		util.String("sms_provider", cfg.SMS.Provider),
		util.Strings("journal_sinks", f.journal.Names()),
	)
	return f, nil
}

// initializeClients connects to every enabled backend. Outside production a
// failing optional backend is logged and skipped; a backend the OTP store
// depends on is always fatal.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	cfg := f.config
	var initErrors []error
	fail := func(name string, err error, required bool) {
		err = fmt.Errorf("%s: %w", name, err)
		if required || cfg.IsProduction() {
			initErrors = append(initErrors, err)
			return
		}
		f.logger.Warn("Service initialization warning", util.ErrorField(err))
	}

	if cfg.Redis.Enabled {
		rc, err := client.NewRedisClient(cfg.Redis, f.logger.Named("redis"))
		if err != nil {
			fail("redis", err, cfg.OTP.Store == "redis")
		} else {
			f.redisClient = rc
		}
	}

	if cfg.Scylla.Enabled {
		sc, err := scylla.NewScyllaClient(cfg.Scylla, cfg.IsDevelopment(), f.logger.Named("scylla"))
		if err != nil {
			fail("scylla", err, cfg.OTP.Store == "scylla")
		} else {
			f.scyllaClient = sc
		}
	}

	if cfg.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(cfg.Kafka, cfg.IsDevelopment(), f.logger.Named("kafka"))
		if err != nil {
			fail("kafka", err, false)
		} else {
			f.kafkaProducer = producer
		}
	}

	if cfg.Elasticsearch.Enabled {
		es, err := client.NewElasticsearchClient(cfg.Elasticsearch, cfg.IsDevelopment(), f.logger.Named("elasticsearch"))
		if err != nil {
			fail("elasticsearch", err, false)
		} else {
			f.esClient = es
		}
	}

	if cfg.Clickhouse.Enabled {
		ch, err := client.NewClickHouseClient(cfg.Clickhouse, cfg.IsProduction(), f.logger.Named("clickhouse"))
		if err != nil {
			fail("clickhouse", err, false)
		} else if err := ch.HealthCheck(ctx); err != nil {
			_ = ch.Close()
			fail("clickhouse health check", err, false)
		} else {
			f.clickhouseClient = ch
		}
	}

	return errors.Join(initErrors...)
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	cfg := f.config

	f.hasher = hashing.NewHasher(cfg)
	if days := cfg.Hashing.PepperRotationDays; days > 0 {
		f.hasher.StartPepperRotation(f.background, time.Duration(days)*24*time.Hour)
	}

	f.bucketingManager = bucketing.NewManager(cfg.Bucketing.EventBuckets)

	if cfg.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		f.encryptionManager = encryption.NewKMSManager(kms.NewFromConfig(awsCfg), cfg.KMS.KeyID, cfg.KMS.CacheSize, f.logger.Named("encryption"))
	} else if cfg.Journal.SealPII {
		f.encryptionManager = encryption.NewLocalManager(cfg.KMS.LocalKey, cfg.KMS.CacheSize, f.logger.Named("encryption"))
	}

	f.logger.Info("Managers initialized successfully",
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Int("event_buckets", cfg.Bucketing.EventBuckets),
	)
	return nil
}

// initializeJournal assembles the event fan-out. The bounded memory sink is
// always present because it backs the events listing endpoint.
func (f *Factory) initializeJournal() error {
	cfg := f.config
	jlog := f.logger.Named("journal")

	f.memoryJournal = journal.NewBoundedMemorySink(cfg.Journal.MemoryCapacity)
	f.journal = journal.NewMultiSink(jlog).
		Add("memory", f.memoryJournal).
		Add("log", journal.NewLogSink(jlog))

	if f.kafkaProducer != nil {
		f.journal.Add("kafka", f.sealed(journal.NewKafkaSink(f.kafkaProducer)))
	}
	if f.esClient != nil {
		f.journal.Add("elasticsearch", f.sealed(journal.NewElasticsearchSink(f.esClient, cfg.Elasticsearch.Index)))
	}
	if f.clickhouseClient != nil {
		chSink, err := journal.NewClickHouseSink(f.clickhouseClient, cfg.Clickhouse.Table, f.bucketingManager)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		if err := chSink.EnsureTable(ctx); err != nil {
			return fmt.Errorf("clickhouse table: %w", err)
		}
		f.journal.Add("clickhouse", f.sealed(chSink))
	}

	var locator riskmeta.Locator
	if cfg.Geo.IPLookupURL != "" {
		locator = riskmeta.NewIPLocator(cfg.Geo.IPLookupURL, client.NewHTTPClient(client.WithTimeout(cfg.Geo.Timeout)))
	}
	f.collector = riskmeta.NewCollector(riskmeta.Device{
		Signals: riskmeta.DeviceSignals{
			UserAgent: serverUserAgent + "/" + cfg.Environment,
			Renderer:  "server",
		},
		Timezone: time.Local.String(),
	}, locator, f.journal, f.logger.Named("riskmeta"), riskmeta.WithCaptureTimeout(cfg.Geo.Timeout))

	if locator != nil {
		go f.collector.CaptureGeolocation(f.background)
	}
	return nil
}

// sealed wraps sinks that leave the process so phone numbers are stored
// encrypted. Memory and log sinks stay in clear text.
func (f *Factory) sealed(sink journal.Sink) journal.Sink {
	if !f.config.Journal.SealPII || f.encryptionManager == nil {
		return sink
	}
	return journal.NewSealingSink(sink, f.encryptionManager)
}

func (f *Factory) initializeLedger() error {
	cfg := f.config
	llog := f.logger.Named("otp")

	var (
		store otp.Store
		opts  []otp.Option
	)
	switch cfg.OTP.Store {
	case "redis":
		if f.redisClient == nil {
			return errors.New("redis client not initialized")
		}
		store = redisrepo.NewOTPStore(f.redisClient, cfg.OTP.StoreGrace, llog)
		opts = append(opts,
			otp.WithLocker(redisrepo.NewLocker(f.redisClient, lockTTL, llog)),
			otp.WithSendLimiter(redisrepo.NewSendLimiter(f.redisClient, cfg.OTP.SendLimit, cfg.OTP.SendWindow, llog)),
		)
	case "scylla":
		if f.scyllaClient == nil {
			return errors.New("scylla client not initialized")
		}
		ss := scylla.NewOTPStore(f.scyllaClient, cfg.OTP.StoreGrace, llog)
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		if err := ss.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("scylla schema: %w", err)
		}
		store = ss
	default:
		store = otp.NewMemoryStore()
	}

	// Without a shared limiter each process counts on its own.
	if cfg.OTP.Store != "redis" && cfg.OTP.SendLimit > 0 {
		opts = append(opts, otp.WithSendLimiter(otp.NewMemorySendLimiter(cfg.OTP.SendLimit, cfg.OTP.SendWindow)))
	}

	f.ledger = otp.NewLedger(store, f.hasher, f.smsSender(), otp.Config{
		Validity:                    cfg.OTP.Validity,
		MaxAttempts:                 cfg.OTP.MaxAttempts,
		DefaultCountryCode:          cfg.OTP.DefaultCountryCode,
		InvalidateOnDeliveryFailure: cfg.OTP.InvalidateOnSMSFailure,
	}, llog, opts...)
	return nil
}

func (f *Factory) smsSender() sms.Sender {
	cfg := f.config.SMS
	slog := f.logger.Named("sms")
	switch cfg.Provider {
	case "twilio":
		return sms.NewTwilioSender(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber, slog)
	case "console":
		return sms.NewConsoleSender(slog)
	default:
		slog.Warn("No SMS provider configured, OTP delivery will fail")
		return sms.UnconfiguredSender{}
	}
}

func (f *Factory) initializeSimulation() {
	cfg := f.config.FraudX

	f.fraudClient = fraudx.NewClient(fraudx.Config{
		ServerURL:           cfg.ServerURL,
		PingEndpoint:        cfg.PingEndpoint,
		ResetEndpoint:       cfg.ResetEndpoint,
		SetDeliveryEndpoint: cfg.SetDeliveryEndpoint,
		Timeout:             cfg.RequestTimeout,
	}, f.logger.Named("fraudx"))

	f.scheduler = simulation.NewScheduler(f.fraudClient, simulation.Config{
		MinInterval:      cfg.MinInterval,
		MaxInterval:      cfg.MaxInterval,
		MismatchInterval: cfg.MismatchInterval,
		PingTimeout:      cfg.RequestTimeout,
		MaxActive:        cfg.MaxActive,
	}, f.logger.Named("simulation"), simulation.WithObserver(f.observePing))
}

// observePing journals pings that came back with fraud signals. It runs on
// the simulation goroutine, so the append happens in the background.
func (f *Factory) observePing(o simulation.Outcome) {
	if o.Err != nil || o.Result == nil || len(o.Result.FraudTypes) == 0 {
		return
	}

	payload := map[string]interface{}{
		"type":       fraudSignalEvent,
		"orderId":    o.ID,
		"mode":       string(o.Mode),
		"seq":        o.Seq,
		"waypoint":   o.Waypoint.Name,
		"fraudTypes": o.Result.FraudTypes,
	}
	if o.Result.Speed != nil {
		payload["speed"] = *o.Result.Speed
	}

	go func() {
		ctx, cancel := context.WithTimeout(f.background, observerTimeout)
		defer cancel()
		if _, err := f.collector.LogTransaction(ctx, payload); err != nil {
			f.logger.Warn("Failed to journal fraud signal", util.String("order_id", o.ID), util.ErrorField(err))
		}
	}()
}

// ==============================
// Health Checks
// ==============================

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck probes every initialized backend concurrently and returns the
// failures by name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]healthChecker{}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer
	}

	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, c := range checks {
		g.Go(func() error {
			if err := c.HealthCheck(gctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if f.hasher == nil {
		healthErrors["hasher"] = errors.New("hasher not initialized")
	}
	return healthErrors
}

// Healthy folds HealthCheck into one error. Kafka is best effort and does
// not make the service unhealthy.
func (f *Factory) Healthy(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")

	names := make([]string, 0, len(healthErrors))
	for name := range healthErrors {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, healthErrors[name]))
	}
	return errors.Join(errs...)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.scheduler != nil {
			if n := f.scheduler.StopAll(); n > 0 {
				f.logger.Info("Stopped running simulations", util.Int("count", n))
			}
			metrics.SimulationsActive.Set(0)
		}
		f.stop()

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				f.logger.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				f.logger.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			f.logger.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				f.logger.Info("Redis client closed")
			}
		}

		f.logger.Info("Factory shutdown completed")
		_ = f.logger.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Scheduler() *simulation.Scheduler {
	return f.scheduler
}

func (f *Factory) Collector() *riskmeta.Collector {
	return f.collector
}

// EventLog is the in-process journal used for listing recent events.
func (f *Factory) EventLog() *journal.MemorySink {
	return f.memoryJournal
}

func (f *Factory) Ledger() *otp.Ledger {
	return f.ledger
}
