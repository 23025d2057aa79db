package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bsonschema/internal/rest"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type config struct {
	NATSURL         string
	HTTPAddr        string
	ValidatorBucket string
	ConfigBucket    string
	Debug           bool
	TestMode        bool
}

func (c *config) load(fs *flag.FlagSet, getenv func(string) string) {
	fs.StringVar(&c.NATSURL, "nats-url", envOr(getenv, "NATS_URL", nats.DefaultURL), "NATS server URL")
	fs.StringVar(&c.HTTPAddr, "http-addr", envOr(getenv, "HTTP_ADDR", ":8081"), "HTTP server address")
	fs.StringVar(&c.ValidatorBucket, "validator-bucket", envOr(getenv, "VALIDATOR_BUCKET", "VALIDATORS"), "JetStream KV bucket for validators")
	fs.StringVar(&c.ConfigBucket, "config-bucket", envOr(getenv, "CONFIG_BUCKET", "CONFIG"), "JetStream KV bucket for configs")
	fs.BoolVar(&c.Debug, "debug", envBool(getenv, "DEBUG", false), "Enable debug logging")
	fs.BoolVar(&c.TestMode, "test", envBool(getenv, "TEST_MODE", false), "Enable test mode with embedded NATS server")
}

type server struct {
	cfg          config
	nc           *nats.Conn
	js           nats.JetStreamContext
	kvValidators nats.KeyValue
	kvConfig     nats.KeyValue
	http         *http.Server
	natsServer   *natsd.Server
	natsDir      string
}

func newServer(cfg config) *server {
	return &server{
		cfg:  cfg,
		http: &http.Server{Addr: cfg.HTTPAddr, Handler: rest.Routes(), ReadHeaderTimeout: 10 * time.Second},
	}
}

func main() {
	cfg := config{}
	cfg.load(flag.CommandLine, os.Getenv)
	flag.Parse()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting validator store server", "config", cfg)

	srv := newServer(cfg)
	if err := srv.setup(); err != nil {
		slog.Error("Failed to setup server", "error", err)
		slog.Warn("Continuing with limited functionality (no persistent storage)")
	}

	// nil buckets fall back to memory
	rest.Init(srv.kvValidators, srv.kvConfig, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rest.Store().WaitReady(ctx); err != nil {
		slog.Warn("Validator cache not ready, serving from storage", "error", err)
	}
	cancel()

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	srv.gracefulShutdown(5 * time.Second)
}

func (s *server) startEmbeddedNATS() error {
	slog.Info("Starting embedded NATS server")

	tmpDir, err := os.MkdirTemp("", "nats-data-*")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	opts := &natsd.Options{
		JetStream:  true,
		Port:       natsd.RANDOM_PORT,
		Host:       "127.0.0.1",
		StoreDir:   tmpDir,
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := natsd.NewServer(opts)
	if err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		os.RemoveAll(tmpDir)
		return errors.New("embedded NATS server failed to start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !ns.JetStreamEnabled() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if !ns.JetStreamEnabled() {
		ns.Shutdown()
		os.RemoveAll(tmpDir)
		return errors.New("JetStream failed to start")
	}

	slog.Info("Embedded NATS server started", "url", ns.ClientURL())
	s.natsServer = ns
	s.natsDir = tmpDir
	return nil
}

func (s *server) connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("BSON Schema Store"),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Error("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
}

func (s *server) setup() error {
	slog.Debug("Connecting to NATS", "url", s.cfg.NATSURL)

	nc, err := s.connect(s.cfg.NATSURL)
	if err != nil && s.cfg.TestMode {
		slog.Info("Failed to connect to external NATS server, starting embedded server", "error", err)
		if err := s.startEmbeddedNATS(); err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}
		if nc, err = s.connect(s.natsServer.ClientURL()); err != nil {
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	s.nc = nc
	slog.Info("Connected to NATS", "url", nc.ConnectedUrl())

	s.js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return fmt.Errorf("JetStream context: %w", err)
	}

	if s.kvValidators, err = s.bucketWithRetry(s.cfg.ValidatorBucket, "Validator records"); err != nil {
		return fmt.Errorf("create validator bucket: %w", err)
	}
	if s.kvConfig, err = s.bucketWithRetry(s.cfg.ConfigBucket, "Config records"); err != nil {
		s.kvValidators = nil
		return fmt.Errorf("create config bucket: %w", err)
	}

	slog.Info("NATS setup completed successfully")
	return nil
}

func (s *server) bucketWithRetry(name, desc string) (nats.KeyValue, error) {
	const maxRetries = 5
	var err error
	for i := 0; i < maxRetries; i++ {
		slog.Debug("Setting up bucket", "name", name, "attempt", i+1)
		var kv nats.KeyValue
		if kv, err = s.makeBucket(name, desc); err == nil {
			return kv, nil
		}
		slog.Debug("Retrying bucket creation", "error", err)
		time.Sleep(time.Second)
	}
	return nil, err
}

func (s *server) makeBucket(name, desc string) (nats.KeyValue, error) {
	kv, err := s.js.KeyValue(name)
	if errors.Is(err, nats.ErrBucketNotFound) {
		slog.Debug("Bucket not found, creating", "name", name)
		return s.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      name,
			Description: desc,
			Storage:     nats.FileStorage,
			History:     5,
		})
	}
	return kv, err
}

func (s *server) gracefulShutdown(timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("Shutting down server...")
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	rest.Store().Close()

	if s.nc != nil {
		s.nc.Close()
	}
	if s.natsServer != nil {
		slog.Info("Shutting down embedded NATS server")
		s.natsServer.Shutdown()
		os.RemoveAll(s.natsDir)
	}
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(getenv func(string) string, key string, def bool) bool {
	if v := getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}
