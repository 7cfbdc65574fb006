//go:build stdlog

package build

// LoggingType is a log type that only writes to stdout. It is meant for
// running unit tests with log output.
const LoggingType = LogTypeStdOut
