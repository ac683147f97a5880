// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	nats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

const (
	errKey = "error"
	// gracefulShutdownSeconds should be higher than NATS client
	// request timeout, and lower than the pod or liveness probe's
	// terminationGracePeriodSeconds.
	gracefulShutdownSeconds = 25
)

var (
	logger   *slog.Logger
	natsConn *nats.Conn
)

// main parses optional flags and starts the NATS subscribers.
func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	// Allow overriding the port by environmental variable as well as command
	// line argument.
	flags := pflag.NewFlagSet("access-sync", pflag.ExitOnError)
	debug := flags.BoolP("debug", "d", false, "enable debug logging")
	port := flags.StringP("port", "p", cfg.Port, "health checks port")
	bind := flags.String("bind", "*", "interface to bind on")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	logOptions := &slog.HandlerOptions{}

	// Optional debug logging.
	if cfg.Debug || *debug {
		logOptions.Level = slog.LevelDebug
		logOptions.AddSource = true
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, logOptions))
	slog.SetDefault(logger)

	// Create an OpenFGA client when mirroring is configured.
	var mirror *FgaService
	if cfg.FgaEnabled() {
		fgaClient, err := connectFga(cfg)
		if err != nil {
			logger.With(errKey, err).Error("error creating OpenFGA client")
			os.Exit(1)
		}
		mirror = &FgaService{client: fgaClient}
		logger.With("url", cfg.FgaAPIURL).Info("OpenFGA client created")
	}

	// Add an http listener for health checks and metrics. This server does NOT
	// participate in the graceful shutdown process; we want it to stay up until
	// the process is killed, to avoid liveness checks failing during the
	// graceful shutdown.
	var addr string
	if *bind == "*" {
		addr = ":" + *port
	} else {
		addr = *bind + ":" + *port
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           newRouter(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.With(errKey, err).Error("http listener error")
			os.Exit(1)
		}
	}()

	// Create a wait group which is used to wait while draining (gracefully
	// closing) a connection.
	gracefulCloseWG := sync.WaitGroup{}

	// Support graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Create NATS connection.
	gracefulCloseWG.Add(1)
	natsConn, err = nats.Connect(
		cfg.NatsURL,
		nats.DrainTimeout(gracefulShutdownSeconds*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			if s != nil {
				logger.With(errKey, err, "subject", s.Subject, "queue", s.Queue).Error("async NATS error")
			} else {
				logger.With(errKey, err).Error("async NATS error outside subscription")
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if ctx.Err() != nil {
				// If our parent background context has already been canceled, this is
				// a graceful shutdown. Decrement the wait group but do not exit, to
				// allow other graceful shutdown steps to complete.
				gracefulCloseWG.Done()
				return
			}
			// Otherwise, this handler means that max reconnect attempts have been
			// exhausted.
			logger.Error("NATS max-reconnects exhausted; connection closed")
			// Send a synthetic interrupt and give any graceful-shutdown tasks 5
			// seconds to clean up.
			done <- os.Interrupt
			time.Sleep(5 * time.Second)
			// Exit with an error instead of decrementing the wait group.
			os.Exit(1)
		}),
	)
	if err != nil {
		logger.With(errKey, err).Error("error creating NATS client")
		os.Exit(1)
	}
	logger.With("url", cfg.NatsURL).Info("NATS client created")

	jetstreamConn, err := jetstream.New(natsConn)
	if err != nil {
		logger.With(errKey, err).Error("error creating JetStream client")
		os.Exit(1)
	}
	catalogBucket, err := jetstreamConn.KeyValue(ctx, cfg.CatalogBucket)
	if err != nil {
		logger.With(errKey, err, "bucket", cfg.CatalogBucket).Error("error binding to catalog bucket")
		os.Exit(1)
	}
	snapshots, err := NewSnapshotStore(catalogBucket, cfg.SnapshotCacheSize)
	if err != nil {
		logger.With(errKey, err).Error("error creating snapshot store")
		os.Exit(1)
	}

	service := NewHandlerService(snapshots, NewNatsPublisher(natsConn, cfg.Environment()), mirror)
	if err = createQueueSubscriptions(service, cfg.Environment()); err != nil {
		logger.With(errKey, err).Error("error creating queue subscriptions")
		os.Exit(1)
	}

	// This next line blocks until SIGINT or SIGTERM is received, or NATS disconnects.
	<-done

	// Cancel the background context.
	cancel()

	// Drain the connection, which will drain all subscriptions, then close the
	// connection when complete.
	if !natsConn.IsClosed() && !natsConn.IsDraining() {
		logger.Info("draining NATS connections")
		if err := natsConn.Drain(); err != nil {
			logger.With(errKey, err).Error("error draining NATS connection")
			os.Exit(1)
		}
	}

	// Wait for the graceful shutdown steps to complete.
	gracefulCloseWG.Wait()

	// Immediately close the HTTP server after graceful shutdown has finished.
	if err = httpServer.Close(); err != nil {
		logger.With(errKey, err).Error("http listener error on close")
	}
}

// newRouter serves the health checks and metrics.
func newRouter() http.Handler {
	router := chi.NewRouter()

	// Support GET/POST monitoring "ping".
	router.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		// This always returns as long as the service is still running. As this
		// endpoint is expected to be used as a Kubernetes liveness check, this
		// service must likewise self-detect non-recoverable errors and
		// self-terminate.
		_, err := fmt.Fprintf(w, "OK\n")
		if err != nil {
			logger.With(errKey, err).Error("error writing to response writer")
		}
	})

	// Basic health check.
	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if natsConn == nil {
			http.Error(w, "no NATS connection", http.StatusServiceUnavailable)
			return
		}
		if !natsConn.IsConnected() || natsConn.IsDraining() {
			http.Error(w, "NATS connection not ready", http.StatusServiceUnavailable)
			return
		}
		_, err := fmt.Fprintf(w, "OK\n")
		if err != nil {
			logger.With(errKey, err).Error("error writing to response writer")
		}
	})

	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

// updateAccessSubjects maps the permission update subjects to the kind of
// resource they edit.
var updateAccessSubjects = map[string]model.Kind{
	constants.OrganizationUpdateAccessSubject: model.KindOrganization,
	constants.ProjectUpdateAccessSubject:      model.KindProject,
	constants.CollectionUpdateAccessSubject:   model.KindCollection,
	constants.LinkTypeUpdateAccessSubject:     model.KindLinkType,
	constants.ViewUpdateAccessSubject:         model.KindView,
}

// createQueueSubscriptions creates queue subscriptions for the NATS subjects.
func createQueueSubscriptions(service *HandlerService, environment constants.LFXEnvironment) error {
	subscribe := func(subject string, handle func(INatsMsg) error) error {
		subject = envSubject(environment, subject)
		if _, err := natsConn.QueueSubscribe(subject, constants.AccessSyncQueue, natsHandler(handle)); err != nil {
			logger.With(errKey, err, "subject", subject).Error("error subscribing to NATS subject")
			return err
		}
		logger.With("subject", subject).Info("subscribed to NATS subject")
		return nil
	}

	if err := subscribe(constants.AccessCheckSubject, service.accessCheckHandler); err != nil {
		return err
	}
	for subject, kind := range updateAccessSubjects {
		if err := subscribe(subject, service.updateAccessHandler(kind)); err != nil {
			return err
		}
	}
	return nil
}
