package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/auth"
	"fleet-monitor/dms/internal/config"
	"fleet-monitor/dms/internal/cooldown"
	"fleet-monitor/dms/internal/logger"
	"fleet-monitor/dms/internal/masterdata"
	"fleet-monitor/dms/internal/notify"
	"fleet-monitor/dms/internal/pipeline"
	"fleet-monitor/dms/internal/resolve"
	"fleet-monitor/dms/internal/rules"
	"fleet-monitor/dms/internal/store"
	httpapi "fleet-monitor/dms/internal/transport/http"
	"fleet-monitor/dms/internal/transport/ws"
)

// directory is the master-data surface the pipeline consumes.
type directory interface {
	resolve.VehicleLookup
	resolve.DriverLookup
	resolve.UserLookup
	pipeline.DeviceLookup
}

type eventStore interface {
	pipeline.EventStore
	pipeline.SessionStore
	pipeline.AlertStore
	pipeline.TelemetryStore
}

type backend struct {
	store   eventStore
	dir     directory
	claimer cooldown.Claimer
	keys    auth.KeyStore
	state   pipeline.DeviceStateStore
	redis   *store.RedisStore
	health  map[string]httpapi.Pinger
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openMemory(cfg *config.Config, log *zap.Logger) (*backend, error) {
	mem := store.NewMemoryStore()
	b := &backend{
		store:   mem,
		dir:     masterdata.NewMemoryDirectory(),
		claimer: cooldown.NewLocalClaimer(time.Now),
		state:   mem,
		health:  map[string]httpapi.Pinger{"store": mem},
	}
	if cfg.MasterDataSeedFile != "" {
		dir, err := masterdata.LoadSeedFile(cfg.MasterDataSeedFile)
		if err != nil {
			return nil, err
		}
		b.dir = dir
		log.Info("master data loaded from seed file", zap.String("path", cfg.MasterDataSeedFile))
	} else {
		log.Warn("memory backend without MASTERDATA_SEED_FILE, every event will be rejected")
	}
	return b, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	b := &backend{health: map[string]httpapi.Pinger{}}

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.store = pg
	b.health["postgres"] = pg
	b.closers = append(b.closers, pg.Close)

	masterDB, err := masterdata.OpenPostgres(cfg)
	if err != nil {
		b.close()
		return nil, err
	}
	b.dir = masterdata.NewSQLDirectory(masterDB)
	b.health["masterdata"] = pingFunc(masterDB.PingContext)
	b.closers = append(b.closers, func() { masterDB.Close() })

	rs, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		b.close()
		return nil, err
	}
	b.redis = rs
	b.claimer = rs
	b.keys = rs
	b.state = rs
	b.health["redis"] = rs
	b.closers = append(b.closers, func() { rs.Close() })

	log.Info("connected to postgres, master data and redis",
		zap.String("db_host", cfg.DBHost),
		zap.String("master_db_host", cfg.MasterDBHost),
		zap.String("redis_addr", cfg.RedisAddr),
	)
	return b, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// sinks builds the alert notification targets enabled by cfg.
func sinks(cfg *config.Config, b *backend, hub *ws.Hub, log *zap.Logger) ([]notify.Sink, func()) {
	out := []notify.Sink{hub}
	cleanup := func() {}

	if b.redis != nil {
		out = append(out, notify.NewRedisSink(b.redis))
	}
	if cfg.MQTTBroker != "" {
		client, err := notify.NewMQTTClient(cfg)
		if err != nil {
			log.Error("mqtt sink disabled", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		} else {
			out = append(out, notify.NewMQTTSink(client, cfg.MQTTTopicPrefix))
			cleanup = func() { client.Disconnect(250) }
		}
	}
	if cfg.AlertWebhookURL != "" {
		out = append(out, notify.NewWebhookSink(cfg.AlertWebhookURL, time.Duration(cfg.NotifyTimeoutMS)*time.Millisecond))
	}

	names := make([]string, 0, len(out))
	for _, s := range out {
		names = append(names, s.Name())
	}
	log.Info("alert sinks configured", zap.Strings("sinks", names))
	return out, cleanup
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat, "dms-api")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("dms-api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var b *backend
	var err error
	switch cfg.StoreBackend {
	case "memory":
		b, err = openMemory(cfg, log)
	case "postgres":
		b, err = openPostgres(ctx, cfg, log)
	default:
		err = fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if err != nil {
		return err
	}
	defer b.close()

	hub := ws.NewHub(log.Named("ws"))
	defer hub.Close()
	alertSinks, closeSinks := sinks(cfg, b, hub, log)
	defer closeSinks()
	fanout := notify.NewFanout(time.Duration(cfg.NotifyTimeoutMS)*time.Millisecond, log.Named("notify"), alertSinks...)

	resolver := resolve.New(b.dir, b.dir, b.dir, b.store)
	dedup := cooldown.New(b.store, b.claimer, cooldown.PolicyFromConfig(cfg.AlertCooldowns), log.Named("cooldown"))
	engine := rules.NewEngine(rules.Thresholds{
		DistractionSeconds: cfg.DistractionThresholdSec,
		FatigueScore:       cfg.FatigueThresholdScore,
	})
	alerts := pipeline.NewAlertService(b.store, dedup, resolver, fanout, log.Named("alerts"))

	dispatcher := pipeline.NewDispatcher(cfg.TelemetryChannelSize, cfg.StateChannelSize)
	var writers sync.WaitGroup
	for i := 0; i < cfg.DBWriterWorkers; i++ {
		w := pipeline.NewDBWriter(dispatcher.DBChan, b.store, cfg.DBBatchSize, cfg.DBFlushIntervalMS, log.Named("db_writer"))
		writers.Add(1)
		go func() {
			defer writers.Done()
			w.Run(ctx)
		}()
	}
	for i := 0; i < cfg.StateWriterWorkers; i++ {
		w := pipeline.NewStateWriter(dispatcher.StateChan, b.state, log.Named("state_writer"))
		writers.Add(1)
		go func() {
			defer writers.Done()
			w.Run(ctx)
		}()
	}

	authMW := httpapi.NewAuthMiddleware(auth.NewAuthenticator(cfg, b.keys, log.Named("auth")))

	handlers := &httpapi.Handlers{
		Ingestor:  pipeline.NewIngestor(b.store, resolver, engine, alerts, log.Named("ingest")),
		Sessions:  pipeline.NewSessionService(b.store, resolver, log.Named("sessions")),
		Alerts:    alerts,
		Telemetry: pipeline.NewTelemetryIntake(dispatcher, b.dir, log.Named("telemetry")),
		Health:    b.health,
		Log:       log.Named("http"),
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpapi.NewRouter(handlers, authMW, hub),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("dms-api listening",
			zap.String("addr", srv.Addr),
			zap.String("store_backend", cfg.StoreBackend),
			zap.Int("db_writers", cfg.DBWriterWorkers),
			zap.Int("state_writers", cfg.StateWriterWorkers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}

	// Writers drain their channels and exit once the dispatcher is closed.
	dispatcher.Close()
	writers.Wait()
	fanout.Wait()

	log.Info("dms-api stopped cleanly")
	return nil
}
