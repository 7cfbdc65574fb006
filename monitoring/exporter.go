package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readHeaderTimeout bounds how long the exporter waits for request headers.
const readHeaderTimeout = 5 * time.Second

// Exporter serves the metrics of a Metrics instance over HTTP on /metrics.
type Exporter struct {
	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// ExportPrometheusMetrics launches the Prometheus exporter on the specified
// address. The returned exporter must be stopped on shutdown.
func ExportPrometheusMetrics(listen string, m *Metrics) (*Exporter, error) {
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		m.Registry(), promhttp.HandlerOpts{},
	))

	e := &Exporter{
		listener: lis,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		done: make(chan struct{}),
	}

	go func() {
		defer close(e.done)

		err := e.server.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Prometheus exporter failed: %v", err)
		}
	}()

	log.Infof("Prometheus exporter started on %v/metrics", lis.Addr())

	return e, nil
}

// Addr returns the address the exporter listens on.
func (e *Exporter) Addr() net.Addr {
	return e.listener.Addr()
}

// Stop shuts the HTTP server down and waits for it to exit.
func (e *Exporter) Stop(ctx context.Context) error {
	err := e.server.Shutdown(ctx)
	<-e.done

	return err
}
