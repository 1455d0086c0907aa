// Package server wires the chain client, identity and scheduling engine
// together and runs them for the process lifetime.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/subnetops/regd/blocks"
	"github.com/subnetops/regd/chain"
	"github.com/subnetops/regd/config"
	"github.com/subnetops/regd/logging"
	"github.com/subnetops/regd/registration"
	"github.com/subnetops/regd/signing"
)

// Server owns the process-lifetime components. Construction performs all
// the work that is allowed to fail fatally: key parsing and the chain
// handshake. Everything after Start is contained and logged.
type Server struct {
	cfg       *config.Config
	client    *chain.Client
	scheduler *registration.Scheduler
	tracker   *registration.Tracker
}

func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := logging.FromContext(ctx)

	identity, err := signing.NewIdentity(cfg.Coldkey.Bytes(), cfg.Hotkey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	client, err := chain.Dial(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	// The cost ceiling is reported for the operator but deliberately not
	// enforced anywhere in the scheduling path.
	if cost, err := client.BurnCost(ctx, cfg.Netuid); err != nil {
		logger.Warn("could not fetch current burn cost", zap.Error(err))
	} else {
		logger.Info("current registration burn",
			zap.Uint64("cost", cost),
			zap.Uint64("configured_ceiling", cfg.MaxCost),
			zap.Uint16("netuid", cfg.Netuid),
		)
	}

	regCfg := *cfg.Registration
	var source blocks.Source
	switch regCfg.Source {
	case registration.SourceSubscribe:
		source, err = blocks.NewFinalizedStream(ctx, func(ctx context.Context) (blocks.HeadStream, error) {
			return client.SubscribeFinalized(ctx)
		})
		if err != nil {
			client.Close()
			return nil, err
		}
	default:
		source = blocks.NewPoller(client, regCfg.PollInterval)
	}

	submitter := registration.NewSubmitter(client, identity, cfg.Netuid, regCfg.Mortality)
	tracker := registration.NewTracker(regCfg.TrackerWorkers, regCfg.TrackerQueue, regCfg.ConfirmationTimeout)
	scheduler := registration.NewScheduler(regCfg, source, submitter, tracker)

	return &Server{
		cfg:       cfg,
		client:    client,
		scheduler: scheduler,
		tracker:   tracker,
	}, nil
}

func (s *Server) Close() error {
	return s.client.Close()
}

// Start runs the scheduler, the finalization tracker pool and the metrics
// listener until ctx is cancelled or the scheduler exits on its own
// (single-shot mode).
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)
	logger := logging.FromContext(ctx)

	group.Go(func() error {
		return s.tracker.Run(ctx)
	})
	group.Go(func() error {
		defer stop() // a finished race shuts the rest down
		return s.scheduler.Run(ctx)
	})

	var metricsServer *http.Server
	if s.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              s.cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", s.cfg.MetricsListen))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	<-ctx.Done()

	var result error
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := group.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	logger.Info("scheduler stopped", zap.Uint64("attempts", s.scheduler.Attempts()))
	return result
}
