package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/graph-mail-sync/internal/amqp"
	"github.com/Martian-dev/graph-mail-sync/internal/auth"
	"github.com/Martian-dev/graph-mail-sync/internal/config"
	"github.com/Martian-dev/graph-mail-sync/internal/credential"
	"github.com/Martian-dev/graph-mail-sync/internal/eventstore/sqlite"
	"github.com/Martian-dev/graph-mail-sync/internal/logging"
	natsjs "github.com/Martian-dev/graph-mail-sync/internal/nats"
	"github.com/Martian-dev/graph-mail-sync/internal/providers/gmail"
	"github.com/Martian-dev/graph-mail-sync/internal/providers/outlook"
	"github.com/Martian-dev/graph-mail-sync/internal/server"
	"github.com/Martian-dev/graph-mail-sync/internal/store"
	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

const shutdownTimeout = 10 * time.Second

type mailbox interface {
	sync.MailFetcher
	sync.MailSender
}

func main() {
	configPath := flag.String("config", os.Getenv("MAILSYNC_CONFIG"), "path to a YAML config file")
	flag.Parse()

	log := logging.Log
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		log.WithError(err).Warnf("unknown log level %q, keeping %s", cfg.Log.Level, log.GetLevel())
	}
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var storeOpts []sqlite.Option
	if cfg.Events.Driver != config.EventsNone {
		storeOpts = append(storeOpts, sqlite.WithOutbox(cfg.Events.Subject))
	}
	messages, err := sqlite.Open(cfg.Storage.Path, storeOpts...)
	if err != nil {
		log.WithError(err).Fatal("failed to open message store")
	}
	defer messages.Close()

	directory, err := store.NewDirectory(messages.DB)
	if err != nil {
		log.WithError(err).Fatal("failed to open directory store")
	}

	creds, err := newCredentials(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to configure credentials")
	}
	mb := newMailbox(cfg)

	pipeline := sync.NewPipeline(
		creds,
		mb,
		sync.NewWindowSelector(cfg.Pipeline.Lookback),
		sync.NewStoreWriter(messages),
		sync.PipelineConfig{
			Workers:    cfg.Pipeline.Workers,
			RunTimeout: cfg.Pipeline.RunTimeout,
			Logger:     log,
		},
	)
	scheduler := sync.NewScheduler(pipeline, sync.SchedulerConfig{
		Interval:   cfg.Scheduler.Interval,
		RunOnStart: cfg.Scheduler.RunOnStart,
		Logger:     log,
	})

	dispatchDone := make(chan struct{})
	if cfg.Events.Driver == config.EventsNone {
		close(dispatchDone)
	} else {
		publisher, err := newPublisher(ctx, cfg)
		if err != nil {
			log.WithError(err).Fatal("failed to connect event publisher")
		}
		defer publisher.Close()

		dispatcher := sync.NewDispatcher(messages, publisher, log)
		go func() {
			defer close(dispatchDone)
			dispatcher.Run(ctx)
		}()
	}

	var authMiddleware gin.HandlerFunc
	if cfg.Auth.JWKSURL != "" {
		verifier, err := auth.NewJWTVerifier(ctx, cfg.Auth.JWKSURL)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize JWT verifier")
		}
		authMiddleware = verifier.Middleware()
	}

	srv := server.New(server.Deps{
		Credentials: creds,
		Sender:      mb,
		Retrieval:   pipeline,
		Messages:    messages,
		Directory:   directory,
		Scheduler:   scheduler,
		Auth:        authMiddleware,
		Logger:      log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.HTTP.Addr,
			"provider": cfg.Provider,
			"auth":     cfg.Auth.Mode,
			"events":   cfg.Events.Driver,
		}).Info("graph email service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	scheduler.Stop()
	scheduler.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	<-dispatchDone
	log.Info("stopped")
}

func newCredentials(cfg *config.Config) (sync.CredentialProvider, error) {
	switch cfg.Auth.Mode {
	case config.AuthClientCredentials:
		return auth.NewClientCredentialsProvider(cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.TokenURL, cfg.Auth.Scopes), nil
	case config.AuthDeviceCode:
		ring, err := credential.Open(cfg.Auth.TokenCacheDir)
		if err != nil {
			return nil, err
		}
		cache := credential.NewTokenCache(ring)
		return auth.NewDeviceCodeProvider(cfg.Auth.ClientID, cfg.Auth.DeviceAuthURL, cfg.Auth.TokenURL, cfg.Auth.Scopes, cache, nil), nil
	case config.AuthBroker:
		provider := auth.ProviderMicrosoft
		if cfg.Provider == config.ProviderGmail {
			provider = auth.ProviderGoogle
		}
		return auth.NewBetterAuthClient(cfg.Auth.BrokerURL, cfg.Auth.BrokerJWT, provider), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func newMailbox(cfg *config.Config) mailbox {
	if cfg.Provider == config.ProviderGmail {
		return gmail.New(cfg.Gmail.User, cfg.Gmail.Endpoint, cfg.Pipeline.PageSize)
	}
	return outlook.New(cfg.Graph.User, cfg.Graph.Folder, cfg.Pipeline.PageSize)
}

type eventPublisher interface {
	sync.Publisher
	io.Closer
}

type natsPublisher struct {
	*natsjs.Publisher
}

func (p natsPublisher) Close() error {
	p.Publisher.Close()
	return nil
}

func newPublisher(ctx context.Context, cfg *config.Config) (eventPublisher, error) {
	switch cfg.Events.Driver {
	case config.EventsNATS:
		p, err := natsjs.NewPublisher(cfg.Events.URL, cfg.Events.Stream)
		if err != nil {
			return nil, err
		}
		if err := p.EnsureStream(ctx, cfg.Events.Subject); err != nil {
			p.Close()
			return nil, err
		}
		return natsPublisher{p}, nil
	case config.EventsAMQP:
		return amqp.NewPublisher(cfg.Events.URL, cfg.Events.Exchange)
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
	}
}
