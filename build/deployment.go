package build

import (
	"fmt"
	"runtime"
)

var (
	// Version is the application version. It is overridden at link time
	// via -ldflags "-X github.com/lightningnetwork/torpath/build.Version=".
	Version = "0.1.0-beta"

	// Commit stores the current commit of this build, set at link time.
	Commit string
)

// UserAgent returns the version string reported at startup and by the
// --version flag.
func UserAgent(name string) string {
	if Commit == "" {
		return fmt.Sprintf("%s version %s %s/%s", name, Version,
			runtime.GOOS, runtime.GOARCH)
	}

	return fmt.Sprintf("%s version %s commit=%s %s/%s", name, Version,
		Commit, runtime.GOOS, runtime.GOARCH)
}
