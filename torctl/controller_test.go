package torctl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/torpath/attach"
	"github.com/lightningnetwork/torpath/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// commandHandler answers a single command. It runs on the fake daemon's
// connection goroutine and writes its reply with send.
type commandHandler func(d *fakeTor, args string)

// fakeTor emulates the control port of a Tor daemon. It answers commands
// through per verb handlers and can emit asynchronous events at any time.
type fakeTor struct {
	t *testing.T

	listener net.Listener

	mu       sync.Mutex
	conn     *textproto.Conn
	handlers map[string]commandHandler

	// commands receives every command the fake daemon read.
	commands chan string
}

// nullAuthHandlers accept NULL authentication and event subscription.
func nullAuthHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"PROTOCOLINFO": func(d *fakeTor, _ string) {
			d.send("250-PROTOCOLINFO 1",
				"250-AUTH METHODS=NULL",
				`250-VERSION Tor="0.4.8.9"`,
				"250 OK")
		},
		"AUTHENTICATE": replyOK,
		"SETEVENTS":    replyOK,
	}
}

func replyOK(d *fakeTor, _ string) {
	d.send("250 OK")
}

// newFakeTor starts a fake daemon. The given handlers override the NULL
// authentication defaults.
func newFakeTor(t *testing.T, handlers map[string]commandHandler) *fakeTor {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to create fake tor")

	d := &fakeTor{
		t:        t,
		listener: listener,
		handlers: nullAuthHandlers(),
		commands: make(chan string, 100),
	}
	for verb, h := range handlers {
		d.handlers[verb] = h
	}

	go d.serve()

	t.Cleanup(func() {
		_ = listener.Close()

		d.mu.Lock()
		if d.conn != nil {
			_ = d.conn.Close()
		}
		d.mu.Unlock()
	})

	return d
}

// addr returns the control address of the fake daemon.
func (d *fakeTor) addr() string {
	return d.listener.Addr().String()
}

// serve accepts a single connection and answers its commands.
func (d *fakeTor) serve() {
	netConn, err := d.listener.Accept()
	if err != nil {
		return
	}

	conn := textproto.NewConn(netConn)
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return
		}
		d.commands <- line

		verb, args, _ := strings.Cut(line, " ")
		handler, ok := d.handlers[verb]
		if !ok {
			d.send(fmt.Sprintf("510 Unrecognized command \"%s\"",
				verb))
			continue
		}
		handler(d, args)
	}
}

// send writes raw reply lines.
func (d *fakeTor) send(lines ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return
	}
	for _, line := range lines {
		if err := d.conn.PrintfLine("%s", line); err != nil {
			return
		}
	}
}

// sendData writes a data reply for a GETINFO key.
func (d *fakeTor) sendData(key string, data []string) {
	lines := []string{fmt.Sprintf("250+%s=", key)}
	lines = append(lines, data...)
	lines = append(lines, ".", "250 OK")
	d.send(lines...)
}

// disconnect closes the server side of the connection.
func (d *fakeTor) disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		_ = d.conn.Close()
	}
}

// expectCommand waits for the next command and checks it.
func (d *fakeTor) expectCommand(expected string) {
	d.t.Helper()

	select {
	case cmd := <-d.commands:
		require.Equal(d.t, expected, cmd)
	case <-time.After(testTimeout):
		d.t.Fatalf("command %q not received", expected)
	}
}

// startController starts a controller against the fake daemon and drains
// the startup commands.
func startController(t *testing.T, d *fakeTor, cfg Config) *Controller {
	t.Helper()

	cfg.ControlAddr = d.addr()
	c := NewController(cfg)
	t.Cleanup(func() {
		require.NoError(t, c.Stop())
	})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	require.NoError(t, c.Start(ctx))

	d.expectCommand("PROTOCOLINFO 1")
	<-d.commands
	d.expectCommand("SETEVENTS CIRC STREAM")

	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	return ctx
}

// requireConnected asserts the value of the control connection gauge.
func requireConnected(t *testing.T, metrics *monitoring.Metrics, value int) {
	t.Helper()

	expected := fmt.Sprintf(`
# HELP torpath_control_connected Whether the control port session is up.
# TYPE torpath_control_connected gauge
torpath_control_connected %d
`, value)

	err := testutil.GatherAndCompare(
		metrics.Registry(), strings.NewReader(expected),
		"torpath_control_connected",
	)
	require.NoError(t, err)
}

// TestStartNullAuth checks the NULL authentication handshake and that the
// controller reports itself connected.
func TestStartNullAuth(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, nil)
	metrics := monitoring.NewMetrics()

	cfg := Config{ControlAddr: d.addr(), Metrics: metrics}
	c := NewController(cfg)

	require.NoError(t, c.Start(testContext(t)))
	d.expectCommand("PROTOCOLINFO 1")
	d.expectCommand("AUTHENTICATE")
	d.expectCommand("SETEVENTS CIRC STREAM")

	require.Equal(t, "0.4.8.9", c.Version())
	requireConnected(t, metrics, 1)

	require.NoError(t, c.Stop())
	requireConnected(t, metrics, 0)

	// Commands after Stop fail.
	_, err := c.GetInfo(testContext(t), "version")
	require.ErrorIs(t, err, ErrStopped)
}

// TestStartHashedPassword checks that a configured password is used.
func TestStartHashedPassword(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, map[string]commandHandler{
		"PROTOCOLINFO": func(d *fakeTor, _ string) {
			d.send("250-PROTOCOLINFO 1",
				"250-AUTH METHODS=HASHEDPASSWORD",
				`250-VERSION Tor="0.4.8.9"`,
				"250 OK")
		},
	})

	c := NewController(Config{ControlAddr: d.addr(), Password: "secret"})
	t.Cleanup(func() {
		require.NoError(t, c.Stop())
	})

	require.NoError(t, c.Start(testContext(t)))
	d.expectCommand("PROTOCOLINFO 1")
	d.expectCommand(`AUTHENTICATE "secret"`)
}

// TestStartAuthRejected checks that a rejected authentication fails Start.
func TestStartAuthRejected(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, map[string]commandHandler{
		"AUTHENTICATE": func(d *fakeTor, _ string) {
			d.send("515 Authentication failed")
		},
	})

	c := NewController(Config{ControlAddr: d.addr()})
	t.Cleanup(func() {
		require.NoError(t, c.Stop())
	})

	err := c.Start(testContext(t))
	require.ErrorIs(t, err, errCodeNotMatch)

	var replyErr *ReplyError
	require.ErrorAs(t, err, &replyErr)
	require.Equal(t, 515, replyErr.Code)
}

// TestStartSafeCookie runs the SAFECOOKIE challenge against a daemon that
// verifies the controller's hash.
func TestStartSafeCookie(t *testing.T) {
	t.Parallel()

	cookie := make([]byte, cookieLen)
	_, err := rand.Read(cookie)
	require.NoError(t, err)

	cookiePath := filepath.Join(t.TempDir(), "control_auth_cookie")
	require.NoError(t, os.WriteFile(cookiePath, cookie, 0600))

	serverNonce := bytes.Repeat([]byte{0x42}, nonceLen)
	var message []byte

	d := newFakeTor(t, map[string]commandHandler{
		"PROTOCOLINFO": func(d *fakeTor, _ string) {
			d.send("250-PROTOCOLINFO 1",
				"250-AUTH METHODS=COOKIE,SAFECOOKIE "+
					fmt.Sprintf("COOKIEFILE=%q", cookiePath),
				`250-VERSION Tor="0.4.8.9"`,
				"250 OK")
		},
		"AUTHCHALLENGE": func(d *fakeTor, args string) {
			fields := strings.Fields(args)
			clientNonce, err := hex.DecodeString(fields[1])
			if err != nil {
				d.send("513 Invalid nonce")
				return
			}

			message = bytes.Join([][]byte{
				cookie, clientNonce, serverNonce,
			}, nil)
			serverHash := computeHMAC256(serverKey, message)

			d.send(fmt.Sprintf("250 AUTHCHALLENGE SERVERHASH=%x "+
				"SERVERNONCE=%x", serverHash, serverNonce))
		},
		"AUTHENTICATE": func(d *fakeTor, args string) {
			expected := computeHMAC256(controllerKey, message)
			if args != hex.EncodeToString(expected) {
				d.send("515 Authentication failed")
				return
			}

			d.send("250 OK")
		},
	})

	c := NewController(Config{ControlAddr: d.addr()})
	t.Cleanup(func() {
		require.NoError(t, c.Stop())
	})

	require.NoError(t, c.Start(testContext(t)))
}

// TestStartCookie checks plain COOKIE authentication with a configured
// cookie path.
func TestStartCookie(t *testing.T) {
	t.Parallel()

	cookie := bytes.Repeat([]byte{0x01}, cookieLen)
	cookiePath := filepath.Join(t.TempDir(), "cookie")
	require.NoError(t, os.WriteFile(cookiePath, cookie, 0600))

	d := newFakeTor(t, map[string]commandHandler{
		"PROTOCOLINFO": func(d *fakeTor, _ string) {
			d.send("250-PROTOCOLINFO 1",
				"250-AUTH METHODS=COOKIE",
				`250-VERSION Tor="0.4.8.9"`,
				"250 OK")
		},
	})

	c := NewController(Config{
		ControlAddr: d.addr(),
		CookiePath:  cookiePath,
	})
	t.Cleanup(func() {
		require.NoError(t, c.Stop())
	})

	require.NoError(t, c.Start(testContext(t)))
	d.expectCommand("PROTOCOLINFO 1")
	d.expectCommand("AUTHENTICATE " + hex.EncodeToString(cookie))
}

// TestStartDialFailure checks that a refused connection fails Start and
// that Stop is still safe.
func TestStartDialFailure(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	c := NewController(Config{ControlAddr: addr})
	require.Error(t, c.Start(testContext(t)))
	require.NoError(t, c.Stop())
}

// TestCommands checks the wire format of the simple commands.
func TestCommands(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, map[string]commandHandler{
		"GETINFO": func(d *fakeTor, args string) {
			d.send("250-version=0.4.8.9", "250 OK")
		},
		"SETCONF":   replyOK,
		"RESETCONF": replyOK,
		"ATTACHSTREAM": func(d *fakeTor, args string) {
			d.send(`552 Unknown stream "7"`)
		},
		"CLOSECIRCUIT": replyOK,
	})
	c := startController(t, d, Config{})
	ctx := testContext(t)

	require.NoError(t, c.Ping(ctx))
	d.expectCommand("GETINFO version")

	info, err := c.GetInfo(ctx, "version")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"version": "0.4.8.9"}, info)
	d.expectCommand("GETINFO version")

	_, err = c.GetInfo(ctx, "version", "config-file")
	require.ErrorContains(t, err, "config-file")
	d.expectCommand("GETINFO version config-file")

	require.NoError(t, c.SetConf(ctx, attach.LeaveStreamsUnattached, "1"))
	d.expectCommand(`SETCONF __LeaveStreamsUnattached="1"`)

	require.NoError(t, c.ResetConf(ctx, attach.LeaveStreamsUnattached))
	d.expectCommand("RESETCONF __LeaveStreamsUnattached")

	err = c.AttachStream(ctx, "7", "5")
	require.ErrorIs(t, err, errCodeNotMatch)
	d.expectCommand("ATTACHSTREAM 7 5")

	require.NoError(t, c.CloseCircuit(ctx, "5"))
	d.expectCommand("CLOSECIRCUIT 5")

	_, err = c.GetInfo(ctx, "version")
	require.NoError(t, err)
}

// TestNetworkQueries checks that the data replies of the network queries
// are parsed into relays, families and weights.
func TestNetworkQueries(t *testing.T) {
	t.Parallel()

	guardFP := strings.Repeat("AB", 20)
	exitFP := strings.Repeat("CD", 20)

	d := newFakeTor(t, map[string]commandHandler{
		"GETINFO": func(d *fakeTor, args string) {
			switch args {
			case "ns/all":
				d.sendData(args, []string{
					routerLine("guard", guardFP,
						"10.1.0.1", 9001),
					"s Fast Guard Running Stable Valid",
					"w Bandwidth=500",
					routerLine("exit", exitFP,
						"10.2.0.1", 443),
					"s Exit Fast Running Stable Valid",
					"w Bandwidth=700 Unmeasured=1",
				})

			case "desc/all-recent":
				d.sendData(args, []string{
					"router guard 10.1.0.1 9001 0 0",
					"fingerprint " + spaced(guardFP),
					"family $" + exitFP + " friend",
					"router-signature",
				})

			case "dir/status-vote/current/consensus":
				d.sendData(args, []string{
					"network-status-version 3",
					"bandwidth-weights Wgg=5000 Wee=9000",
					"directory-signature",
				})

			default:
				d.send("552 Unrecognized key")
			}
		},
	})
	c := startController(t, d, Config{})
	ctx := testContext(t)

	nodes, err := c.NetworkStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, guardFP, nodes[0].Fingerprint)
	require.Equal(t, uint64(700), nodes[1].Bandwidth)

	decls, err := c.FamilyDeclarations(ctx)
	require.NoError(t, err)
	require.Len(t, decls, 1)
	require.Equal(t, guardFP, decls[0].Fingerprint)
	require.Equal(t, []string{"$" + exitFP, "friend"}, decls[0].Members)

	table, err := c.ConsensusWeights(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	_, err = c.GetInfo(ctx, "unknown")
	require.ErrorIs(t, err, errCodeNotMatch)
}

// TestRequestCircuit checks that a build request completes once the circuit
// is reported built, whether the event arrives after or before the reply.
func TestRequestCircuit(t *testing.T) {
	t.Parallel()

	fps := []string{
		strings.Repeat("A", 40), strings.Repeat("B", 40),
		strings.Repeat("C", 40),
	}

	tests := []struct {
		name    string
		handler commandHandler
	}{
		{
			name: "event after reply",
			handler: func(d *fakeTor, _ string) {
				d.send("250 EXTENDED 7",
					"650 CIRC 7 LAUNCHED PURPOSE=GENERAL",
					"650 CIRC 7 EXTENDED $AAAA~a",
					"650 CIRC 7 BUILT $AAAA~a,$BBBB~b "+
						"PURPOSE=GENERAL")
			},
		},
		{
			name: "event before reply",
			handler: func(d *fakeTor, _ string) {
				d.send("650 CIRC 7 BUILT $AAAA~a,$BBBB~b",
					"250 EXTENDED 7")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := newFakeTor(t, map[string]commandHandler{
				"EXTENDCIRCUIT": tc.handler,
			})
			c := startController(t, d, Config{})

			id, err := c.RequestCircuit(testContext(t), fps)
			require.NoError(t, err)
			require.Equal(t, "7", id)

			d.expectCommand("EXTENDCIRCUIT 0 $" + fps[0] + ",$" +
				fps[1] + ",$" + fps[2])
		})
	}
}

// TestRequestCircuitFailed checks that a failed circuit is reported with
// its reason.
func TestRequestCircuitFailed(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, map[string]commandHandler{
		"EXTENDCIRCUIT": func(d *fakeTor, _ string) {
			d.send("250 EXTENDED 9",
				"650 CIRC 9 FAILED $AAAA~a REASON=TIMEOUT")
		},
	})
	c := startController(t, d, Config{})

	_, err := c.RequestCircuit(testContext(t), []string{"AAAA"})
	require.ErrorIs(t, err, ErrCircuitFailed)
	require.ErrorContains(t, err, "TIMEOUT")
}

// TestRequestCircuitTimeout checks that a circuit that is never reported
// built is closed once the context ends.
func TestRequestCircuitTimeout(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, map[string]commandHandler{
		"EXTENDCIRCUIT": func(d *fakeTor, _ string) {
			d.send("250 EXTENDED 11",
				"650 CIRC 11 LAUNCHED")
		},
		"CLOSECIRCUIT": replyOK,
	})
	c := startController(t, d, Config{})

	ctx, cancel := context.WithTimeout(
		context.Background(), 200*time.Millisecond,
	)
	defer cancel()

	_, err := c.RequestCircuit(ctx, []string{"AAAA"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	d.expectCommand("EXTENDCIRCUIT 0 $AAAA")
	d.expectCommand("CLOSECIRCUIT 11")

	// The connection remains usable.
	require.NoError(t, c.CloseCircuit(testContext(t), "11"))
}

// TestAbandonedReply checks that the late reply of a command whose caller
// gave up is not mistaken for the reply of the next command.
func TestAbandonedReply(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	d := newFakeTor(t, map[string]commandHandler{
		"GETINFO": func(d *fakeTor, args string) {
			if args == "slow" {
				<-release
				d.send("250-slow=1", "250 OK")
				return
			}
			d.send("250-"+args+"=2", "250 OK")
		},
	})
	c := startController(t, d, Config{})

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	_, err := c.GetInfo(ctx, "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	info, err := c.GetInfo(testContext(t), "fast")
	require.NoError(t, err)
	require.Equal(t, "2", info["fast"])
}

// TestStreamEvents checks that stream events reach every subscriber.
func TestStreamEvents(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, nil)
	c := startController(t, d, Config{})

	feed, err := c.SubscribeStreamEvents()
	require.NoError(t, err)
	defer feed.Cancel()

	d.send("650 STREAM 12 NEW 0 example.com:80 SOURCE_ADDR=127.0.0.1:1 " +
		"PURPOSE=USER")

	select {
	case event := <-feed.Updates():
		require.Equal(t, attach.StreamEvent{
			ID:        "12",
			Status:    attach.StreamNew,
			CircuitID: "0",
			Target:    "example.com:80",
		}, event)

	case <-time.After(testTimeout):
		t.Fatalf("stream event not delivered")
	}
}

// TestConnectionLost checks that commands fail once the daemon hangs up.
func TestConnectionLost(t *testing.T) {
	t.Parallel()

	d := newFakeTor(t, nil)
	c := startController(t, d, Config{})

	d.disconnect()

	require.Eventually(t, func() bool {
		_, err := c.GetInfo(testContext(t), "version")
		return errors.Is(err, ErrStopped)
	}, testTimeout, 10*time.Millisecond)
}
