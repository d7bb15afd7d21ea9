// Command cached runs the HTTP gateway: a local daemon answering
// GET /fetch?url=... from the shared cache directory.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	staticcache "github.com/static-cache/static-cache"
	"github.com/static-cache/static-cache/internal/config"
	"github.com/static-cache/static-cache/internal/gateway"
	"github.com/static-cache/static-cache/internal/logging"
	"github.com/static-cache/static-cache/transport"
)

type cliOptions struct {
	configPath string
}

var stdErr io.Writer = os.Stderr

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

func parseCLIFlags(args []string) (cliOptions, error) {
	var opts cliOptions

	flags := flag.NewFlagSet("cached", flag.ContinueOnError)
	flags.SetOutput(stdErr)
	flags.StringVar(&opts.configPath, "config", "", "path to config.toml")

	if err := flags.Parse(args); err != nil {
		return cliOptions{}, err
	}
	return opts, nil
}

func run(opts cliOptions) int {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			fmt.Fprintf(stdErr, "load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	logger, err := logging.Init(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "init logging: %v\n", err)
		return 1
	}

	client := transport.NewUpstreamClient(cfg.UpstreamTimeout.DurationValue())
	cache, err := staticcache.New(cfg.CacheDir, client, logger)
	if err != nil {
		logger.WithError(err).WithFields(logging.BaseFields("setup", opts.configPath)).Error("cache setup failed")
		return 1
	}
	defer cache.Close()

	app, err := gateway.New(gateway.Options{Logger: logger, Cache: cache})
	if err != nil {
		logger.WithError(err).WithFields(logging.BaseFields("setup", opts.configPath)).Error("gateway setup failed")
		return 1
	}

	logger.WithFields(logging.BaseFields("listen", opts.configPath)).
		WithField("port", cfg.ListenPort).
		Info("gateway listening")

	if err := app.Listen(fmt.Sprintf(":%d", cfg.ListenPort)); err != nil {
		logger.WithError(err).WithFields(logging.BaseFields("listen", opts.configPath)).Error("gateway stopped")
		return 1
	}
	return 0
}
