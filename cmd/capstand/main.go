// Command capstand runs the release pipeline daemon in the foreground,
// suitable for systemd units and containers. `capstan start` launches the
// same daemon loop through the CLI's hidden subcommand instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"capstan/internal/config"
	"capstan/internal/daemonrun"
	"capstan/internal/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "configuration file path")
		socketPath  = flag.String("socket", "", "unix socket path for the IPC server")
		logLevel    = flag.String("log-level", "", "override the configured log level")
		showVersion = flag.Bool("version", false, "print version information and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("capstand " + version.BuildInfoFull())
		return
	}

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capstand: %v\n", err)
		os.Exit(1)
	}

	opts := daemonrun.Options{LogLevel: *logLevel}
	if err := daemonrun.Run(context.Background(), cfg, *socketPath, opts); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "capstand: %v\n", err)
		os.Exit(1)
	}
}
