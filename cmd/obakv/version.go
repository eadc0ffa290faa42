package main

import (
	"fmt"
	"runtime"
)

// Version information - these can be set at build time using ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// VersionCmd prints version information.
type VersionCmd struct {
	Short bool `help:"Show only the version number"`
}

func (c *VersionCmd) Run(rc *runContext) error {
	if c.Short {
		fmt.Fprintln(rc.stdout, version)
		return nil
	}

	fmt.Fprintf(rc.stdout, "obakv version %s\n", version)
	fmt.Fprintf(rc.stdout, "  Commit:     %s\n", commit)
	fmt.Fprintf(rc.stdout, "  Built:      %s\n", buildDate)
	fmt.Fprintf(rc.stdout, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(rc.stdout, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
