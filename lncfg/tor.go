package lncfg

import (
	"fmt"
	"net"
	"time"
)

const (
	// DefaultControlAddr is the default address of the router's control
	// port.
	DefaultControlAddr = "127.0.0.1:9051"

	// DefaultSOCKSAddr is the default address of the router's SOCKS
	// listener.
	DefaultSOCKSAddr = "127.0.0.1:9050"

	// DefaultDialTimeout is the default timeout for the control port
	// connection.
	DefaultDialTimeout = 10 * time.Second
)

// Tor holds the configuration options for the connection to the tor router.
type Tor struct {
	Control       string        `long:"control" description:"The host:port that Tor is listening on for Tor control connections"`
	SOCKS         string        `long:"socks" description:"The host:port that Tor's exposed SOCKS5 proxy is listening on"`
	Password      string        `long:"password" description:"The password used to arrive at the HashedControlPassword for the control port. If provided, the HASHEDPASSWORD authentication method will be used instead of the cookie based ones."`
	CookieFile    string        `long:"cookiefile" description:"Path to the control auth cookie. Overrides the path reported by the router."`
	DialTimeout   time.Duration `long:"dialtimeout" description:"The timeout for connecting to the control port"`
	ConsensusFile string        `long:"consensusfile" description:"Path to a cached consensus (e.g. cached-microdesc-consensus) to read the bandwidth weights from instead of asking the router"`
}

// DefaultTor returns the default tor connection options.
func DefaultTor() Tor {
	return Tor{
		Control:     DefaultControlAddr,
		SOCKS:       DefaultSOCKSAddr,
		DialTimeout: DefaultDialTimeout,
	}
}

// Validate checks the tor connection options.
func (t *Tor) Validate() error {
	if _, _, err := net.SplitHostPort(t.Control); err != nil {
		return fmt.Errorf("invalid tor.control %q: %w", t.Control, err)
	}
	if _, _, err := net.SplitHostPort(t.SOCKS); err != nil {
		return fmt.Errorf("invalid tor.socks %q: %w", t.SOCKS, err)
	}
	if t.DialTimeout <= 0 {
		return fmt.Errorf("tor.dialtimeout must be positive, got %v",
			t.DialTimeout)
	}

	return nil
}
