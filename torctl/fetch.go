package torctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/lightningnetwork/torpath/build"
	"golang.org/x/net/proxy"
)

const (
	// DefaultFetchTimeout bounds a whole fetch.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultPreviewSize is the number of body bytes kept by a fetch.
	DefaultPreviewSize = 500
)

// FetchConfig configures FetchViaCircuit.
type FetchConfig struct {
	// SOCKSAddr is the host:port of the router's SOCKS listener.
	SOCKSAddr string

	// Timeout bounds the whole request, DefaultFetchTimeout if zero.
	Timeout time.Duration

	// PreviewSize is the number of body bytes to keep,
	// DefaultPreviewSize if zero.
	PreviewSize int64
}

// FetchResult is the outcome of a fetch.
type FetchResult struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Status is the HTTP status line.
	Status string

	// Preview holds at most PreviewSize bytes of the body.
	Preview []byte
}

// FetchViaCircuit issues a GET request through the router's SOCKS listener.
// Host names are resolved by the router. While new streams are left
// unattached the request's stream is the one that gets attached to the
// built circuit.
func FetchViaCircuit(ctx context.Context, cfg FetchConfig,
	url string) (*FetchResult, error) {

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.PreviewSize == 0 {
		cfg.PreviewSize = DefaultPreviewSize
	}

	dialer, err := proxy.SOCKS5(
		"tcp", cfg.SOCKSAddr, nil, &net.Dialer{Timeout: cfg.Timeout},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create SOCKS dialer: %w", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("SOCKS dialer does not support contexts")
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:       ctxDialer.DialContext,
			DisableKeepAlives: true,
		},
		Timeout: cfg.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", build.UserAgent("torpath"))

	log.Infof("Fetching %v via %v", url, cfg.SOCKSAddr)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch %v: %w", url, err)
	}
	defer resp.Body.Close()

	preview, err := io.ReadAll(io.LimitReader(resp.Body, cfg.PreviewSize))
	if err != nil {
		return nil, fmt.Errorf("unable to read response: %w", err)
	}

	return &FetchResult{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Preview:    preview,
	}, nil
}
