package torpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/torpath/build"
	"github.com/lightningnetwork/torpath/lncfg"
	"github.com/lightningnetwork/torpath/signal"
)

const (
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "torpath.log"
)

var (
	// DefaultTorpathDir is the default directory where torpath keeps its
	// configuration and log files.
	DefaultTorpathDir = btcutil.AppDataDir("torpath", false)

	// DefaultConfigFile is the default full path of torpath's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultTorpathDir, lncfg.DefaultConfigFilename,
	)

	defaultLogDir = filepath.Join(DefaultTorpathDir, defaultLogDirname)
)

// Config defines the configuration options for torpath.
//
// See LoadConfig for further details regarding the configuration
// loading+parsing process.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	TorpathDir string `long:"torpathdir" description:"The base directory that contains torpath's configuration and log files"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	CloseCircuit bool `long:"closecircuit" description:"Close the built circuit before exiting"`
	PrintTable   bool `long:"table" description:"Print the hops of the built circuit as a table"`

	Tor *lncfg.Tor `group:"Tor" namespace:"tor"`

	Path *lncfg.Path `group:"Path" namespace:"path"`

	Retry *lncfg.Retry `group:"Retry" namespace:"retry"`

	Fetch *lncfg.Fetch `group:"Fetch" namespace:"fetch"`

	Prometheus lncfg.Prometheus `group:"prometheus" namespace:"prometheus"`

	HealthChecks *lncfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// LogRotator is the writer of the rotated log file.
	LogRotator *build.RotatingLogWriter

	// SubLogMgr is the root logger that all the daemon's subloggers are
	// hooked up to.
	SubLogMgr *build.SubLoggerManager
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	tor := lncfg.DefaultTor()
	path := lncfg.DefaultPath()
	retry := lncfg.DefaultRetry()
	fetch := lncfg.DefaultFetch()
	health := lncfg.DefaultHealthCheck()

	return Config{
		TorpathDir:   DefaultTorpathDir,
		ConfigFile:   DefaultConfigFile,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		Tor:          &tor,
		Path:         &path,
		Retry:        &retry,
		Fetch:        &fetch,
		Prometheus:   lncfg.DefaultPrometheus(),
		HealthChecks: &health,
		LogConfig:    build.DefaultLogConfig(),
		LogRotator:   build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, error) {
	return loadConfig(os.Args[1:], interceptor)
}

// loadConfig is LoadConfig with explicit command line arguments.
func loadConfig(args []string, interceptor signal.Interceptor) (*Config,
	error) {

	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(build.UserAgent(appName))
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their torpathdir, then we should assume they intend to use
	// the config file within it.
	configFileDir := lncfg.CleanAndExpandPath(preCfg.TorpathDir)
	configFilePath := lncfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultTorpathDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, lncfg.DefaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := DefaultConfig()
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.NewParser(&cfg, flags.Default).ParseArgs(
		args,
	); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, usageMessage, interceptor)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		ltndLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, usageMessage string,
	interceptor signal.Interceptor) (*Config, error) {

	// If the provided torpath directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	torpathDir := lncfg.CleanAndExpandPath(cfg.TorpathDir)
	if torpathDir != DefaultTorpathDir && cfg.LogDir == defaultLogDir {
		cfg.LogDir = filepath.Join(torpathDir, defaultLogDirname)
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)
	cfg.Tor.CookieFile = lncfg.CleanAndExpandPath(cfg.Tor.CookieFile)
	cfg.Tor.ConsensusFile = lncfg.CleanAndExpandPath(cfg.Tor.ConsensusFile)

	err := lncfg.Validate(
		cfg.Tor, cfg.Path, cfg.Retry, cfg.Fetch, &cfg.Prometheus,
		cfg.HealthChecks, cfg.LogConfig,
	)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)

		return nil, err
	}

	// A log writer must be passed in, otherwise we can't function and
	// would run into a panic later on.
	if cfg.LogRotator == nil {
		return nil, errors.New("log writer missing in config")
	}

	// Initialize logging at the default logging level.
	cfg.SubLogMgr = build.NewSubLoggerManager(
		build.NewDefaultHandler(cfg.LogConfig, cfg.LogRotator),
	)
	SetupLoggers(cfg.SubLogMgr, interceptor)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.SubLogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	if !cfg.LogConfig.File.Disable {
		err = cfg.LogRotator.InitLogRotator(
			cfg.LogConfig.File,
			filepath.Join(cfg.LogDir, defaultLogFilename),
		)
		if err != nil {
			err = fmt.Errorf("log rotation setup failed: %w", err)
			_, _ = fmt.Fprintln(os.Stderr, err)

			return nil, err
		}
	}

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.SubLogMgr)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)

		return nil, err
	}

	return &cfg, nil
}
