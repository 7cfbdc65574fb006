package build

import (
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btclog/v2"
)

const (
	callSiteOff   = "off"
	callSiteShort = "short"
	callSiteLong  = "long"

	defaultLogCompressor = Gzip

	// DefaultMaxLogFiles is the default maximum number of log files to
	// keep.
	DefaultMaxLogFiles = 3

	// DefaultMaxLogFileSize is the default maximum log file size in MB.
	DefaultMaxLogFileSize = 10
)

// LogConfig holds logging configuration options.
//
//nolint:lll
type LogConfig struct {
	NoTimestamps bool              `long:"no-timestamps" description:"Omit timestamps from log lines."`
	CallSite     string            `long:"call-site" description:"Include the call-site of each log line." choice:"off" choice:"short" choice:"long"`
	File         *FileLoggerConfig `group:"file" namespace:"file" description:"The logger writing to the rotated log file."`
}

// FileLoggerConfig holds the options of the rotated log file.
//
//nolint:lll
type FileLoggerConfig struct {
	Disable        bool   `long:"disable" description:"Disable the log file."`
	Compressor     string `long:"compressor" description:"Compression algorithm to use when rotating logs." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"max-file-size" description:"Maximum logfile size in MB"`
}

// DefaultLogConfig returns the default logging config options.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		CallSite: callSiteOff,
		File: &FileLoggerConfig{
			Compressor:     defaultLogCompressor,
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
		},
	}
}

// Validate validates the LogConfig struct values.
func (c *LogConfig) Validate() error {
	if !SupportedLogCompressor(c.File.Compressor) {
		return fmt.Errorf("invalid log compressor: %v",
			c.File.Compressor)
	}

	switch c.CallSite {
	case "", callSiteOff, callSiteShort, callSiteLong:
	default:
		return fmt.Errorf("invalid call site option: %v", c.CallSite)
	}

	return nil
}

// HandlerOptions returns the set of btclog.HandlerOptions that the state of
// the config struct translates to.
func (c *LogConfig) HandlerOptions() []btclog.HandlerOption {
	var opts []btclog.HandlerOption
	if c.NoTimestamps {
		opts = append(opts, btclog.WithNoTimestamp())
	}

	switch c.CallSite {
	case callSiteShort:
		opts = append(opts, btclog.WithCallerFlags(btclog.Lshortfile))
	case callSiteLong:
		opts = append(opts, btclog.WithCallerFlags(btclog.Llongfile))
	}

	return opts
}

// NewDefaultHandler returns the handler all subsystem loggers write through.
// Output always goes to stdout and, unless the file logger is disabled, to
// the rotator as well.
func NewDefaultHandler(cfg *LogConfig,
	rotator *RotatingLogWriter) btclog.Handler {

	var w io.Writer = os.Stdout
	if !cfg.File.Disable && rotator != nil {
		w = io.MultiWriter(os.Stdout, rotator)
	}

	return btclog.NewDefaultHandler(w, cfg.HandlerOptions()...)
}
