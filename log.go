package torpath

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/torpath/attach"
	"github.com/lightningnetwork/torpath/build"
	"github.com/lightningnetwork/torpath/circuit"
	"github.com/lightningnetwork/torpath/monitoring"
	"github.com/lightningnetwork/torpath/pathsel"
	"github.com/lightningnetwork/torpath/relay"
	"github.com/lightningnetwork/torpath/signal"
	"github.com/lightningnetwork/torpath/torctl"
	"github.com/lightningnetwork/torpath/weights"
)

// Subsystem is the logging code of the main process.
const Subsystem = "TPTH"

// ltndLog is the logger of the main process. It is replaced by SetupLoggers.
var ltndLog = build.NewSubLogger(Subsystem, nil)

// genSubLogger creates a logger for a subsystem. We create a new sub logger
// for each subsystem so that a critical log line in any of them shuts the
// process down.
func genSubLogger(root *build.SubLoggerManager,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, interceptor.RequestShutdown)
	}
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager,
	interceptor signal.Interceptor) {

	genLogger := genSubLogger(root, interceptor)

	// Now that we have the root logger, we can create the main process
	// logger.
	ltndLog = build.NewSubLogger(Subsystem, genLogger)

	// The interrupt handler must not request shutdown from its own
	// critical log lines.
	AddSubLogger(root, signal.Subsystem, nil, signal.UseLogger)

	shutdown := interceptor.RequestShutdown
	AddSubLogger(root, relay.Subsystem, shutdown, relay.UseLogger)
	AddSubLogger(root, weights.Subsystem, shutdown, weights.UseLogger)
	AddSubLogger(root, pathsel.Subsystem, shutdown, pathsel.UseLogger)
	AddSubLogger(root, circuit.Subsystem, shutdown, circuit.UseLogger)
	AddSubLogger(root, attach.Subsystem, shutdown, attach.UseLogger)
	AddSubLogger(root, torctl.Subsystem, shutdown, torctl.UseLogger)
	AddSubLogger(
		root, monitoring.Subsystem, shutdown, monitoring.UseLogger,
	)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems. A critical log line calls shutdown if
// it is set.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	shutdown func(), useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := root.GenSubLogger(subsystem, shutdown)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system.
func SetSubLogger(root *build.SubLoggerManager, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
