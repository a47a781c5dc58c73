package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-voice/engine/call"
	"github.com/WessleyAI/wessley-voice/engine/ingest"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
	"github.com/WessleyAI/wessley-voice/pkg/mid"
	"github.com/WessleyAI/wessley-voice/pkg/natsutil"
)

const sweepInterval = 30 * time.Second

func newServeCommand(cc *commandContext) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and voice webhooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := cc.config()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newServices(ctx, cfg, cc.logger)
			if err != nil {
				return err
			}
			defer svc.Close()
			return serve(ctx, svc)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func newAPI(svc *services, calls *call.Controller) *api {
	a := &api{
		cfg:     svc.cfg,
		log:     svc.log,
		metrics: svc.metrics,
		uploads: svc.ingest,
		asker:   svc.rag,
		calls:   calls,
	}
	if svc.catalog != nil {
		a.docs = svc.catalog
		a.points = svc.vectors
	}
	if svc.dialer != nil {
		a.dialer = svc.dialer
	}
	if svc.numbers != nil {
		a.numbers = svc.numbers
	}
	return a
}

func serve(ctx context.Context, svc *services) error {
	logger := svc.log
	calls := svc.newController()
	go calls.Store().Run(ctx, sweepInterval, func(s call.Session) {
		logger.Info("call session evicted", "call_id", s.CallID, "state", s.State, "turns", s.Turns)
	})

	handler := mid.Chain(newAPI(svc, calls).routes(),
		mid.RequestID(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(svc.cfg.Server.CORSOrigin),
		mid.OTel("voicerag"),
		mid.Metrics(svc.metrics),
	)

	srv := &http.Server{
		Addr:         svc.cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("voicerag server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func newWorkerCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued uploads and journal bus events from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := cc.config()
			if !cfg.NATS.Enabled {
				return errors.New("worker requires nats.enabled = true")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newServices(ctx, cfg, cc.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			sub, err := ingest.StartConsumer(svc.nc, svc.ingest, ingest.ConsumerRetry, svc.log)
			if err != nil {
				return fmt.Errorf("start consumer: %w", err)
			}
			defer func() { _ = sub.Unsubscribe() }()

			journal, err := watchEvents(svc)
			if err != nil {
				return fmt.Errorf("watch events: %w", err)
			}
			defer func() {
				for _, s := range journal {
					_ = s.Unsubscribe()
				}
			}()

			svc.log.Info("ingest worker running", "subject", ingest.SubjectRequests, "queue", ingest.QueueGroup)
			<-ctx.Done()
			return nil
		},
	}
}

// watchEvents logs the ingested and call-ended announcements published by
// every serve and worker process on the bus.
func watchEvents(svc *services) ([]*nats.Subscription, error) {
	log := svc.log.With("component", "journal")
	ingested := svc.metrics.Counter("voicerag_journal_documents_total", "Ingested announcements seen on the bus")
	docs, err := natsutil.Subscribe(svc.nc, ingest.SubjectIngested, func(_ context.Context, ev ingest.DocumentIngested) {
		ingested.Inc()
		log.Info("document ingested", "doc_id", ev.DocumentID, "filename", ev.Filename, "owner", ev.OwnerIdentity, "chunks", ev.Chunks)
	})
	if err != nil {
		return nil, err
	}
	calls, err := natsutil.Subscribe(svc.nc, call.SubjectEnded, func(_ context.Context, ev call.CallEnded) {
		svc.metrics.Counter(metrics.WithLabels("voicerag_journal_calls_total", "direction", string(ev.Direction)), "Call-ended announcements seen on the bus").Inc()
		log.Info("call ended", "call_id", ev.CallID, "direction", ev.Direction, "turns", ev.Turns, "faulted", ev.Faulted, "duration", ev.Duration)
	})
	if err != nil {
		_ = docs.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{docs, calls}, nil
}
