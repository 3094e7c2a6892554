// Command mlbridge generates guest-value marshalling and entry-point
// trampolines for Go packages annotated with //mlbridge: directives.
//
// Typical use is a go:generate line in the annotated package:
//
//	//go:generate go run github.com/funvibe/mlbridge/cmd/mlbridge
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/funvibe/mlbridge/internal/config"
	"github.com/funvibe/mlbridge/internal/diag"
	"github.com/funvibe/mlbridge/internal/generate"
	"github.com/funvibe/mlbridge/pkg/mlvalue"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to mlbridge.yaml (default: nearest one above the working directory)")
		verbose    = flag.Bool("v", false, "Verbose output")
		check      = flag.Bool("check", false, "Report out-of-date outputs without writing them")
		noCache    = flag.Bool("no-cache", false, "Regenerate every package")
		cleanCache = flag.Bool("clean-cache", false, "Remove the generation cache and exit")
		jsonOut    = flag.Bool("json", false, "Print diagnostics as JSON on stdout")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: mlbridge [-config file] [-v] [-check] [-no-cache] [-clean-cache] [-json] [patterns...]")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := newLogger(*verbose)
	mlvalue.SetLogger(logger.Named("mlvalue"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, logger, options{
		configFile: *configFile,
		verbose:    *verbose,
		check:      *check,
		noCache:    *noCache,
		cleanCache: *cleanCache,
		json:       *jsonOut,
	}, flag.Args())
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

type options struct {
	configFile string
	verbose    bool
	check      bool
	noCache    bool
	cleanCache bool
	json       bool
}

func run(ctx context.Context, logger *zap.Logger, o options, patterns []string) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var cfg *config.Config
	if o.configFile != "" {
		cfg, err = config.LoadConfig(o.configFile)
	} else {
		cfg, err = config.Discover(wd)
	}
	if err != nil {
		report(err, o.json)
		return 1
	}
	if d := cfg.Dir(); d != "" {
		logger.Debug("using config", zap.String("dir", d))
	}

	opts := []generate.Option{
		generate.WithConfig(cfg),
		generate.WithDir(wd),
		generate.WithCheck(o.check),
		generate.WithVerbose(o.verbose),
		generate.WithLogger(logger),
	}
	if o.noCache {
		opts = append(opts, generate.WithCache(false))
	}
	gen := generate.New(opts...)

	if o.cleanCache {
		if err := gen.Cache().Clean(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		logger.Info("cache removed", zap.String("dir", gen.Cache().CacheDir()))
		return 0
	}

	results, err := gen.Run(ctx, patterns...)
	for _, res := range results {
		for _, p := range res.Written {
			logger.Info("wrote", zap.String("file", p))
		}
		for _, p := range res.Removed {
			logger.Info("removed", zap.String("file", p))
		}
		for _, p := range res.Stale {
			fmt.Fprintf(os.Stderr, "%s: out of date\n", p)
		}
	}
	if err == nil {
		return 0
	}
	if errors.Is(err, generate.ErrStale) {
		return 1
	}
	report(err, o.json)
	return 1
}

// report prints diagnostics, one per line on stderr or as a JSON document
// on stdout.
func report(err error, asJSON bool) {
	if asJSON {
		if werr := diag.WriteJSON(os.Stdout, err); werr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", werr)
		}
		return
	}
	for _, e := range diag.Errors(err) {
		fmt.Fprintln(os.Stderr, e)
	}
}

// newLogger builds a console logger on stderr. Levels are coloured only
// when stderr is a terminal.
func newLogger(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core).Named("mlbridge")
}
