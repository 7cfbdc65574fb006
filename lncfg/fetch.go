package lncfg

import (
	"fmt"
	"net/url"
	"time"

	"github.com/lightningnetwork/torpath/torctl"
)

// DefaultFetchURL is the page fetched through a fresh circuit.
const DefaultFetchURL = "https://check.torproject.org/"

// Fetch holds the options of the request issued through the built circuit.
type Fetch struct {
	URL         string        `long:"url" description:"The URL to fetch through the circuit, empty to skip the fetch"`
	Timeout     time.Duration `long:"timeout" description:"The timeout of the whole request"`
	PreviewSize int64         `long:"previewsize" description:"The number of response body bytes to print"`
}

// DefaultFetch returns the default fetch options.
func DefaultFetch() Fetch {
	return Fetch{
		URL:         DefaultFetchURL,
		Timeout:     torctl.DefaultFetchTimeout,
		PreviewSize: torctl.DefaultPreviewSize,
	}
}

// Validate checks the fetch options.
func (f *Fetch) Validate() error {
	if f.URL == "" {
		return nil
	}

	u, err := url.Parse(f.URL)
	if err != nil {
		return fmt.Errorf("invalid fetch.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("fetch.url must be http or https, got %q",
			u.Scheme)
	}
	if f.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %v",
			f.Timeout)
	}
	if f.PreviewSize < 0 {
		return fmt.Errorf("fetch.previewsize must not be negative, "+
			"got %d", f.PreviewSize)
	}

	return nil
}
