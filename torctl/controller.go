package torctl

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/tor"
	"github.com/lightningnetwork/torpath/attach"
	"github.com/lightningnetwork/torpath/monitoring"
	"github.com/lightningnetwork/torpath/subscribe"
)

const (
	// nonceLen is the length of a nonce generated by either the controller
	// or the Tor server.
	nonceLen = 32

	// cookieLen is the length of the authentication cookie.
	cookieLen = 32

	// ProtocolInfoVersion is the PROTOCOLINFO version sent to the server.
	ProtocolInfoVersion = 1

	// DefaultDialTimeout bounds the control connection dial.
	DefaultDialTimeout = 10 * time.Second

	// eventQueueSize is the buffer of the async event queue between the
	// reader and the dispatcher.
	eventQueueSize = 50

	// replyBacklog is the number of command replies the reader can hand
	// off before a command picks them up.
	replyBacklog = 8

	// circuitStatusTTL is how long a circuit status is remembered for a
	// circuit nobody waits on yet.
	circuitStatusTTL = time.Minute

	// maxRecentCircuits caps the remembered circuit statuses.
	maxRecentCircuits = 256

	authSafeCookie     = "SAFECOOKIE"
	authCookie         = "COOKIE"
	authHashedPassword = "HASHEDPASSWORD"
	authNull           = "NULL"
)

var (
	// serverKey is the key used when computing the HMAC-SHA256 of a message
	// from the server.
	serverKey = []byte("Tor safe cookie authentication " +
		"server-to-controller hash")

	// controllerKey is the key used when computing the HMAC-SHA256 of a
	// message from the controller.
	controllerKey = []byte("Tor safe cookie authentication " +
		"controller-to-server hash")

	// ErrNotStarted is returned when a command is sent before Start.
	ErrNotStarted = errors.New("tor controller must be started")

	// ErrStopped is returned by commands once the controller is stopped
	// or the connection was lost.
	ErrStopped = errors.New("tor controller stopped")

	// ErrCircuitFailed is returned when the router reports a requested
	// circuit as failed or closed.
	ErrCircuitFailed = errors.New("circuit failed")
)

// Config holds the settings of a Controller.
type Config struct {
	// ControlAddr is the host:port of the router's control port.
	ControlAddr string

	// Password, if set, is used for HASHEDPASSWORD authentication.
	Password string

	// CookiePath overrides the cookie file reported by PROTOCOLINFO.
	CookiePath string

	// Dial opens the control connection. Defaults to a clear net dial.
	Dial tor.DialFunc

	// DialTimeout bounds the dial, DefaultDialTimeout if zero.
	DialTimeout time.Duration

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// Controller is a Tor control port session. It authenticates, subscribes to
// circuit and stream events and demultiplexes the asynchronous events from
// command replies, so commands can be issued while events are delivered.
type Controller struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	conn *textproto.Conn

	// version is the version of the Tor server, known after Start.
	version string

	// cmdMtx serializes commands. Replies arrive in command order.
	cmdMtx sync.Mutex

	// abandoned counts replies of commands whose caller gave up waiting.
	// Guarded by cmdMtx.
	abandoned int

	replies    chan *reply
	readerDone chan struct{}
	readErr    error

	events  *queue.ConcurrentQueue
	streams *subscribe.Server[attach.StreamEvent]

	circMtx     sync.Mutex
	circWaiters map[string]chan circuitEvent

	// recentCircuits holds final statuses of circuits that had no waiter
	// when the event arrived.
	recentCircuits *ttlcache.Cache[string, circuitEvent]

	quit chan struct{}
	wg   sync.WaitGroup
}

// Compile time check that the controller serves the stream attacher.
var _ attach.Controller = (*Controller)(nil)

// NewController returns a controller for the given configuration.
func NewController(cfg Config) *Controller {
	if cfg.Dial == nil {
		cfg.Dial = (&tor.ClearNet{}).Dial
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}

	return &Controller{
		cfg:         cfg,
		replies:     make(chan *reply, replyBacklog),
		readerDone:  make(chan struct{}),
		events:      queue.NewConcurrentQueue(eventQueueSize),
		streams:     subscribe.NewServer[attach.StreamEvent](),
		circWaiters: make(map[string]chan circuitEvent),
		recentCircuits: ttlcache.New[string, circuitEvent](
			ttlcache.WithTTL[string, circuitEvent](
				circuitStatusTTL,
			),
			ttlcache.WithCapacity[string, circuitEvent](
				maxRecentCircuits,
			),
			ttlcache.WithDisableTouchOnHit[string, circuitEvent](),
		),
		quit: make(chan struct{}),
	}
}

// Start connects to the control port, authenticates and subscribes to
// circuit and stream events. Stop must be called even if Start fails.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Starting tor controller for %s", c.cfg.ControlAddr)

	c.events.Start()
	if err := c.streams.Start(); err != nil {
		return err
	}

	netConn, err := c.cfg.Dial("tcp", c.cfg.ControlAddr, c.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("unable to connect to Tor server: %w", err)
	}
	c.conn = textproto.NewConn(netConn)

	c.wg.Add(2)
	go c.readLoop()
	go c.dispatchEvents()

	if err := c.authenticate(ctx); err != nil {
		return fmt.Errorf("unable to authenticate: %w", err)
	}

	_, err = c.sendCommand(ctx, "SETEVENTS CIRC STREAM")
	if err != nil {
		return fmt.Errorf("unable to subscribe to events: %w", err)
	}

	c.cfg.Metrics.SetControlConnected(true)
	log.Infof("Connected to Tor %s", c.version)

	return nil
}

// Stop closes the connection and releases every subscriber.
func (c *Controller) Stop() error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Stopping tor controller")

	close(c.quit)

	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.wg.Wait()

	c.events.Stop()
	if stopErr := c.streams.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	c.recentCircuits.DeleteAll()

	c.cfg.Metrics.SetControlConnected(false)

	return err
}

// Version returns the Tor version reported during authentication.
func (c *Controller) Version() string {
	return c.version
}

// readLoop reads replies off the connection. Event notifications go to the
// event queue, everything else is handed to the waiting command.
//
// NOTE: MUST be run as a goroutine.
func (c *Controller) readLoop() {
	defer c.wg.Done()
	defer close(c.readerDone)

	for {
		resp, err := readReply(&c.conn.Reader)
		if err != nil {
			c.readErr = err

			select {
			case <-c.quit:
			default:
				log.Errorf("Control connection lost: %v", err)
				c.cfg.Metrics.SetControlConnected(false)
			}

			return
		}

		if resp.code == asyncEvent {
			select {
			case c.events.ChanIn() <- resp:
			case <-c.quit:
				return
			}

			continue
		}

		select {
		case c.replies <- resp:
		case <-c.quit:
			return
		}
	}
}

// sendCommand sends a command to the Tor server and waits for its reply.
// Replies with a status other than 250 are returned as *ReplyError.
func (c *Controller) sendCommand(ctx context.Context,
	command string) (*reply, error) {

	if !c.started.Load() || c.conn == nil {
		return nil, ErrNotStarted
	}

	c.cmdMtx.Lock()
	defer c.cmdMtx.Unlock()

	select {
	case <-c.readerDone:
		return nil, c.connError()
	default:
	}

	log.Debugf("Sending command: %v", redactCommand(command))

	if err := c.conn.PrintfLine("%s", command); err != nil {
		return nil, err
	}

	for {
		select {
		case resp := <-c.replies:
			// Skip the replies of commands that were given up on.
			if c.abandoned > 0 {
				c.abandoned--
				continue
			}

			if resp.code != success {
				err := &ReplyError{
					Code:  resp.code,
					Reply: resp.text(),
				}
				log.Debugf("Command %v got err: %v",
					redactCommand(command), err)

				return resp, err
			}

			return resp, nil

		case <-c.readerDone:
			return nil, c.connError()

		case <-ctx.Done():
			c.abandoned++

			return nil, ctx.Err()
		}
	}
}

// connError is the error returned once the reader exited.
func (c *Controller) connError() error {
	if c.readErr == nil {
		return ErrStopped
	}

	return fmt.Errorf("%w: %w", ErrStopped, c.readErr)
}

// authenticate authenticates the connection using, in order of preference,
// HASHEDPASSWORD when a password is configured, SAFECOOKIE, COOKIE or NULL.
func (c *Controller) authenticate(ctx context.Context) error {
	info, err := c.protocolInfo(ctx)
	if err != nil {
		return err
	}

	log.Debugf("Received protocol info: %v", info)

	c.version = info.version()

	switch {
	case c.cfg.Password != "":
		if !info.supportsAuthMethod(authHashedPassword) {
			return fmt.Errorf("%v authentication method not "+
				"supported", authHashedPassword)
		}

		cmd := fmt.Sprintf("AUTHENTICATE %s",
			quoteValue(c.cfg.Password))
		_, err := c.sendCommand(ctx, cmd)

		return err

	case info.supportsAuthMethod(authSafeCookie):
		return c.authenticateViaSafeCookie(ctx, info)

	case info.supportsAuthMethod(authCookie):
		cookie, err := c.getAuthCookie(info)
		if err != nil {
			return err
		}

		_, err = c.sendCommand(ctx, fmt.Sprintf("AUTHENTICATE %x",
			cookie))

		return err

	case info.supportsAuthMethod(authNull):
		_, err := c.sendCommand(ctx, "AUTHENTICATE")

		return err

	default:
		return errors.New("the Tor server must be configured with " +
			"NULL, COOKIE, SAFECOOKIE, or HASHEDPASSWORD " +
			"authentication")
	}
}

// authenticateViaSafeCookie authenticates the controller with the Tor server
// using the SAFECOOKIE authentication method.
func (c *Controller) authenticateViaSafeCookie(ctx context.Context,
	info protocolInfo) error {

	cookie, err := c.getAuthCookie(info)
	if err != nil {
		return fmt.Errorf("unable to retrieve authentication "+
			"cookie: %w", err)
	}

	clientNonce := make([]byte, nonceLen)
	if _, err := rand.Read(clientNonce); err != nil {
		return fmt.Errorf("unable to generate client nonce: %w", err)
	}

	cmd := fmt.Sprintf("AUTHCHALLENGE SAFECOOKIE %x", clientNonce)
	resp, err := c.sendCommand(ctx, cmd)
	if err != nil {
		return err
	}

	// The reply is of the form:
	//
	//	"250 AUTHCHALLENGE"
	//		SP "SERVERHASH=" ServerHash
	//		SP "SERVERNONCE=" ServerNonce
	replyParams := parseTorReply(resp.text())

	serverHash, ok := replyParams["SERVERHASH"]
	if !ok {
		return errors.New("server hash not found in reply")
	}
	decodedServerHash, err := hex.DecodeString(serverHash)
	if err != nil {
		return fmt.Errorf("unable to decode server hash: %w", err)
	}
	if len(decodedServerHash) != sha256.Size {
		return errors.New("invalid server hash length")
	}

	serverNonce, ok := replyParams["SERVERNONCE"]
	if !ok {
		return errors.New("server nonce not found in reply")
	}
	decodedServerNonce, err := hex.DecodeString(serverNonce)
	if err != nil {
		return fmt.Errorf("unable to decode server nonce: %w", err)
	}
	if len(decodedServerNonce) != nonceLen {
		return errors.New("invalid server nonce length")
	}

	hmacMessage := bytes.Join(
		[][]byte{cookie, clientNonce, decodedServerNonce}, []byte{},
	)
	computedServerHash := computeHMAC256(serverKey, hmacMessage)
	if !hmac.Equal(computedServerHash, decodedServerHash) {
		return fmt.Errorf("expected server hash %x, got %x",
			decodedServerHash, computedServerHash)
	}

	clientHash := computeHMAC256(controllerKey, hmacMessage)
	_, err = c.sendCommand(ctx, fmt.Sprintf("AUTHENTICATE %x", clientHash))

	return err
}

// getAuthCookie reads the authentication cookie, from the configured path
// or the one reported by PROTOCOLINFO.
func (c *Controller) getAuthCookie(info protocolInfo) ([]byte, error) {
	cookieFilePath := c.cfg.CookiePath
	if cookieFilePath == "" {
		var ok bool
		cookieFilePath, ok = info["COOKIEFILE"]
		if !ok {
			return nil, errors.New("COOKIEFILE not found in " +
				"PROTOCOLINFO reply")
		}
	}

	cookie, err := os.ReadFile(cookieFilePath)
	if err != nil {
		return nil, err
	}

	if len(cookie) != cookieLen {
		return nil, errors.New("invalid authentication cookie length")
	}

	return cookie, nil
}

// protocolInfo is the parsed reply to a PROTOCOLINFO command.
type protocolInfo map[string]string

// version returns the Tor version as reported by the server.
func (i protocolInfo) version() string {
	return strings.Trim(i["Tor"], "\"")
}

// supportsAuthMethod determines whether the Tor server supports the given
// authentication method.
func (i protocolInfo) supportsAuthMethod(method string) bool {
	methods, ok := i["METHODS"]
	if !ok {
		return false
	}

	for _, m := range strings.Split(methods, ",") {
		if m == method {
			return true
		}
	}

	return false
}

// protocolInfo sends a PROTOCOLINFO command to the Tor server.
func (c *Controller) protocolInfo(ctx context.Context) (protocolInfo, error) {
	cmd := fmt.Sprintf("PROTOCOLINFO %d", ProtocolInfoVersion)
	resp, err := c.sendCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return protocolInfo(parseTorReply(resp.text())), nil
}
