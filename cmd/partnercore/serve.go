package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"partnercore/internal/adapters/statusapi"
	"partnercore/internal/attachments"
	"partnercore/internal/blob"
	"partnercore/internal/config"
	"partnercore/internal/core"
	"partnercore/internal/logging"
	"partnercore/internal/notify"
	"partnercore/internal/permissions"
	"partnercore/internal/refdata"
	"partnercore/pkg/domain"
)

// NewServeCommand runs the HTTP API with its background workers.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status and permission API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}
}

// app holds the wired components of a running service.
type app struct {
	cfg        config.Config
	log        zerolog.Logger
	registry   *permissions.Registry
	store      domain.PersistentStore
	dispatcher *notify.Dispatcher
	handler    *statusapi.Handler
	nats       *nats.Conn
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry = permissions.NewRegistry(permissions.FileSource(cfg.Matrix.Rules), log)
	if err := a.registry.Init(); err != nil {
		return nil, fmt.Errorf("build permission matrix: %w", err)
	}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage.Options(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}

	refs, err := loadRefData(cfg)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier
	var invalidator notify.Invalidator
	if cfg.NATS.URL != "" {
		a.nats, err = notify.ConnectNATS(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			return nil, err
		}
		notifier, invalidator = notify.NewNATSNotifier(a.nats), notify.NewNATSInvalidator(a.nats)
	} else {
		backend := notify.NewLogBackend(log.With().Str("component", "notify").Logger())
		notifier, invalidator = backend, backend
	}
	a.dispatcher, err = notify.NewDispatcher(notifier, invalidator, cfg.Dispatcher.Notify(), log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, err
	}

	svc := core.NewService(store, a.registry,
		core.WithAttachments(attachments.New(blobs)),
		core.WithRefData(refs),
		core.WithOutbox(a.dispatcher),
		core.WithLocker(core.NewLocker(cfg.Locks.Timeout)),
		core.WithLogger(log),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(core.NewLogAuditRecorder(log)),
	)
	a.handler = statusapi.NewHandler(svc, log)
	a.handler.Router().Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return a, nil
}

// loadRefData reads the seed file and adds configured tenants it lacks.
func loadRefData(cfg config.Config) (*refdata.Memory, error) {
	refs := refdata.NewMemory(refdata.Seed{})
	if cfg.RefData != "" {
		loaded, err := refdata.LoadFile(cfg.RefData)
		if err != nil {
			return nil, err
		}
		refs = loaded
	}
	known := refs.Tenants()
	for code, short := range cfg.Tenants {
		if slices.Contains(known, code) {
			continue
		}
		refs.Put(refdata.TenantData{Tenant: refdata.Tenant{Code: code, ShortCode: short, Name: code}})
	}
	return refs, nil
}

// run serves until ctx is done, then shuts the server down and drains the
// dispatcher. The matrix watcher runs alongside when enabled.
func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})
	if a.cfg.Matrix.Watch {
		g.Go(func() error {
			return permissions.Watch(gctx, a.cfg.Matrix.Rules, a.cfg.Matrix.Debounce, a.registry, a.log)
		})
	}
	err := g.Wait()
	a.log.Info().Interface("stats", a.dispatcher.Stats()).Msg("stopped")
	return err
}

func (a *app) close() {
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		if err := a.dispatcher.Close(ctx); err != nil {
			a.log.Warn().Err(err).Msg("dispatcher did not drain")
		}
		cancel()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close store")
		}
	}
	if a.registry != nil {
		a.registry.Close()
	}
}
