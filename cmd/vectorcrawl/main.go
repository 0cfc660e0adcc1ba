// Command vectorcrawl turns a set of web pages into summarized, embedded
// text records and a sitemap of the pages it covered.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/masahif/vectorcrawl/internal/cmd"
)

// Overridden at build time:
//
//	go build -ldflags "-X main.Version=v1.2.0 -X main.BuildTime=$(date -u +%FT%TZ)"
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(execute(os.Stderr))
}

// execute runs the CLI and maps its result to a process exit code
func execute(stderr io.Writer) int {
	cmd.SetVersionInfo(Version, BuildTime)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "vectorcrawl: %v\n", err)
	return 1
}
