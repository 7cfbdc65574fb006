package torpath

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/torpath/attach"
	"github.com/lightningnetwork/torpath/build"
	"github.com/lightningnetwork/torpath/circuit"
	"github.com/lightningnetwork/torpath/monitoring"
	"github.com/lightningnetwork/torpath/pathsel"
	"github.com/lightningnetwork/torpath/relay"
	"github.com/lightningnetwork/torpath/signal"
	"github.com/lightningnetwork/torpath/torctl"
	"github.com/lightningnetwork/torpath/weights"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the teardown of the metrics exporter.
const shutdownTimeout = 5 * time.Second

// Main is the true entry point for torpath. It connects to the router, loads
// the relay catalog, builds a circuit through a freshly selected path,
// attaches the next new stream to it and fetches the configured URL through
// that stream. This function is required since defers created in the
// top-level scope of a main method aren't executed if os.Exit() is called.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	return run(cfg, interceptor, os.Stdout)
}

// run implements Main, writing the report to out.
func run(cfg *Config, interceptor signal.Interceptor, out io.Writer) error {
	defer func() {
		ltndLog.Info("Shutdown complete")
		if err := cfg.LogRotator.Close(); err != nil {
			ltndLog.Errorf("Could not close log rotator: %v", err)
		}
	}()

	ltndLog.Infof("Version: %s, debuglevel=%s",
		build.UserAgent("torpath"), cfg.DebugLevel)

	// Every blocking step below ends as soon as a shutdown is requested.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()
		case <-ctx.Done():
		}
	}()

	metrics := monitoring.NewMetrics()
	if cfg.Prometheus.Enabled() {
		exporter, err := monitoring.ExportPrometheusMetrics(
			cfg.Prometheus.Listen, metrics,
		)
		if err != nil {
			return fmt.Errorf("unable to start prometheus "+
				"exporter: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer stopCancel()

			if err := exporter.Stop(stopCtx); err != nil {
				ltndLog.Warnf("Unable to stop exporter: %v", err)
			}
		}()
	}

	ctrl := torctl.NewController(torctl.Config{
		ControlAddr: cfg.Tor.Control,
		Password:    cfg.Tor.Password,
		CookiePath:  cfg.Tor.CookieFile,
		DialTimeout: cfg.Tor.DialTimeout,
		Metrics:     metrics,
	})
	defer func() {
		if err := ctrl.Stop(); err != nil {
			ltndLog.Warnf("Unable to stop controller: %v", err)
		}
	}()

	ltndLog.Infof("Connecting to tor control port at %v", cfg.Tor.Control)
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("unable to connect to tor: %w", err)
	}
	ltndLog.Infof("Connected to tor %v", ctrl.Version())

	if cfg.HealthChecks.Enabled() {
		monitor := newHealthMonitor(cfg, ctrl, interceptor)
		if err := monitor.Start(); err != nil {
			return fmt.Errorf("unable to start health monitor: %w",
				err)
		}
		defer func() {
			if err := monitor.Stop(); err != nil {
				ltndLog.Warnf("Unable to stop health monitor: "+
					"%v", err)
			}
		}()
	}

	catalog, table, err := loadNetwork(ctx, cfg, ctrl)
	if err != nil {
		return err
	}
	metrics.SetCatalogSize(catalog.Len(), catalog.Families().Len())

	ltndLog.Infof("Loaded %d relays, %d families and %d bandwidth "+
		"weights", catalog.Len(), catalog.Families().Len(), table.Len())

	strategy, err := pathsel.New(pathsel.Config{
		Strategy: cfg.Path.Strategy,
		Hops:     cfg.Path.Hops,
		Weights:  table,
		Families: catalog.Families(),
	})
	if err != nil {
		return err
	}

	builder := circuit.NewBuilder(circuit.Config{
		Nodes:        catalog,
		Strategy:     strategy,
		Requester:    ctrl,
		BuildTimeout: cfg.Path.BuildTimeout,
		Retry:        cfg.Retry.Policy(),
		Clock:        clock.NewDefaultClock(),
		Metrics:      metrics,
	})

	circ, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("unable to build circuit after %d "+
			"attempts: %w", builder.Attempts(), err)
	}

	ltndLog.Infof("Built %v after %d attempts", circ, builder.Attempts())

	if cfg.PrintTable {
		fmt.Fprintln(out, circuit.Table(circ))
	} else {
		fmt.Fprintf(out, "Circuit %s\n%s", circ.ID, circuit.Summary(circ))
	}

	attacher := attach.NewAttacher(attach.Config{
		Controller: ctrl,
		CircuitID:  circ.ID,
		Metrics:    metrics,
	})
	defer func() {
		if err := attacher.Stop(); err != nil {
			ltndLog.Warnf("Unable to stop attacher: %v", err)
		}
	}()
	if err := attacher.Start(ctx); err != nil {
		return fmt.Errorf("unable to install stream attacher: %w", err)
	}

	if cfg.Fetch.URL != "" {
		if err := fetch(ctx, cfg, out); err != nil {
			return err
		}
	}

	if cfg.CloseCircuit {
		if err := ctrl.CloseCircuit(ctx, circ.ID); err != nil {
			return err
		}
		ltndLog.Infof("Closed circuit %s", circ.ID)
	}

	return nil
}

// loadNetwork queries the relays, their families and the bandwidth weights
// concurrently. The weights are read from the configured consensus file if
// one is set.
func loadNetwork(ctx context.Context, cfg *Config,
	ctrl *torctl.Controller) (*relay.Catalog, *weights.Table, error) {

	var (
		nodes []relay.Node
		decls []relay.FamilyDeclaration
		table *weights.Table
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = ctrl.NetworkStatuses(gctx)
		if err != nil {
			return fmt.Errorf("unable to list relays: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		var err error
		decls, err = ctrl.FamilyDeclarations(gctx)
		if err != nil {
			return fmt.Errorf("unable to list families: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		var err error
		if cfg.Tor.ConsensusFile != "" {
			table, err = weights.LoadConsensusFile(
				cfg.Tor.ConsensusFile,
			)
		} else {
			table, err = ctrl.ConsensusWeights(gctx)
		}

		// Every weight then falls back to the default.
		if errors.Is(err, weights.ErrNoBandwidthWeights) {
			ltndLog.Warnf("Consensus has no bandwidth weights, "+
				"using %d for every position",
				weights.DefaultWeight)

			table, err = weights.NewTable(nil), nil
		}
		if err != nil {
			return fmt.Errorf("unable to load bandwidth "+
				"weights: %w", err)
		}

		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	catalog := relay.NewCatalog(nodes, relay.NewFamilyIndex(decls))

	return catalog, table, nil
}

// fetch requests the configured URL through the router's SOCKS listener and
// prints the status and the start of the body.
func fetch(ctx context.Context, cfg *Config, out io.Writer) error {
	res, err := torctl.FetchViaCircuit(ctx, torctl.FetchConfig{
		SOCKSAddr:   cfg.Tor.SOCKS,
		Timeout:     cfg.Fetch.Timeout,
		PreviewSize: cfg.Fetch.PreviewSize,
	}, cfg.Fetch.URL)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Status: %d\n%s\n", res.StatusCode, res.Preview)

	return nil
}

// newHealthMonitor creates a monitor that pings the control port and
// requests shutdown once the check keeps failing.
func newHealthMonitor(cfg *Config, ctrl *torctl.Controller,
	interceptor signal.Interceptor) *healthcheck.Monitor {

	check := cfg.HealthChecks
	controlCheck := healthcheck.NewObservation(
		"tor control port",
		func() error {
			ctx, cancel := context.WithTimeout(
				context.Background(), check.Timeout,
			)
			defer cancel()

			return ctrl.Ping(ctx)
		},
		check.Interval, check.Timeout, check.Backoff,
		check.Attempts,
	)

	return healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{controlCheck},
		Shutdown: func(format string, params ...interface{}) {
			ltndLog.Errorf("Health check failed: "+format,
				params...)
			interceptor.RequestShutdown()
		},
	})
}
