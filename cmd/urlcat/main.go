// Command urlcat fetches a single URL through the local cache and copies the
// body to stdout. Repeated invocations against the same cache directory only
// hit the network to revalidate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	staticcache "github.com/static-cache/static-cache"
	"github.com/static-cache/static-cache/internal/config"
	"github.com/static-cache/static-cache/internal/logging"
	"github.com/static-cache/static-cache/transport"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
	cacheDir   string
	url        string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

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

	flags := flag.NewFlagSet("urlcat", flag.ContinueOnError)
	flags.SetOutput(stdErr)
	flags.StringVar(&opts.configPath, "config", "", "path to config.toml (optional)")
	flags.StringVar(&opts.cacheDir, "cache", "", "cache directory (overrides config)")
	flags.Usage = func() {
		fmt.Fprintln(stdErr, "usage: urlcat [-config file] [-cache dir] <url>")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if flags.NArg() != 1 {
		return cliOptions{}, errors.New("exactly one URL argument is required")
	}
	opts.url = flags.Arg(0)

	return opts, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
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
		fmt.Fprintf(stdErr, "open cache: %v\n", err)
		return 1
	}
	defer cache.Close()

	file, err := cache.Get(context.Background(), opts.url)
	if err != nil {
		fmt.Fprintf(stdErr, "could not download %s: %v\n", opts.url, err)
		return 1
	}
	defer file.Close()

	if _, err := io.Copy(stdOut, file); err != nil {
		fmt.Fprintf(stdErr, "write body: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(opts cliOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.cacheDir != "" {
		cfg.CacheDir = opts.cacheDir
	}
	return cfg, nil
}
