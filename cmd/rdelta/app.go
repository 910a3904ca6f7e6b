package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quantarax/deltasync/internal/config"
	"github.com/quantarax/deltasync/internal/filesync"
	"github.com/quantarax/deltasync/internal/observability"
	"github.com/quantarax/deltasync/internal/store"
)

// flagValues mirrors the config keys that can be overridden from the
// command line.
type flagValues struct {
	configPath    string
	blockSize     int
	weak          string
	strong        string
	format        string
	maxLiteralRun int
	bwlimit       int64
	cachePath     string
	noCache       bool
	logLevel      string
	metrics       bool
}

func addGlobalFlags(fs *pflag.FlagSet, f *flagValues) {
	def := config.DefaultConfig()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file (default $"+config.EnvConfigPath+")")
	fs.IntVarP(&f.blockSize, "block-size", "b", def.BlockSize, "base block size in bytes")
	fs.StringVar(&f.weak, "weak", def.WeakAlgorithm, "weak rolling checksum (rollsum, adler32)")
	fs.StringVar(&f.strong, "strong", def.StrongAlgorithm, "strong block hash (blake3, sha256)")
	fs.StringVarP(&f.format, "format", "f", def.PatchFormat, "patch encoding (cbor, json)")
	fs.IntVar(&f.maxLiteralRun, "max-literal-run", def.MaxLiteralRun, "split literal runs longer than this; 0 disables")
	fs.Int64Var(&f.bwlimit, "bwlimit", def.RateLimit, "limit file reads to this many bytes per second; 0 disables")
	fs.StringVar(&f.cachePath, "cache", def.CachePath, "signature cache database")
	fs.BoolVar(&f.noCache, "no-cache", false, "do not read or write the signature cache")
	fs.StringVar(&f.logLevel, "log-level", def.LogLevel, "log level")
	fs.BoolVar(&f.metrics, "metrics", false, "print metrics to stderr on exit")
}

// apply copies every flag the user set over cfg.
func (f *flagValues) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("block-size") {
		cfg.BlockSize = f.blockSize
	}
	if fs.Changed("weak") {
		cfg.WeakAlgorithm = f.weak
	}
	if fs.Changed("strong") {
		cfg.StrongAlgorithm = f.strong
	}
	if fs.Changed("format") {
		cfg.PatchFormat = f.format
	}
	if fs.Changed("max-literal-run") {
		cfg.MaxLiteralRun = f.maxLiteralRun
	}
	if fs.Changed("bwlimit") {
		cfg.RateLimit = f.bwlimit
	}
	if fs.Changed("cache") {
		cfg.CachePath = f.cachePath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if f.noCache {
		cfg.CachePath = ""
	}
}

// app holds what a command run sets up and what must be torn down after it.
type app struct {
	flags   flagValues
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	cache   *store.SignatureCache
	engine  *filesync.Engine
	force   bool

	shutdownTracing func(context.Context) error
}

// setup loads configuration and builds the engine for cmd.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.flags.configPath)
	if err != nil {
		return err
	}
	a.flags.apply(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = observability.NewLogger("rdelta", version, cmd.ErrOrStderr())
	if err := a.logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	a.metrics = observability.NewMetrics()

	shutdown, err := observability.InitTracing(cmd.Context(), "rdelta", cfg.TraceEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	if cfg.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
		cache, err := store.OpenSignatureCache(cfg.CachePath)
		if err != nil {
			return err
		}
		a.cache = cache
	}

	opts, err := filesync.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.Force = a.force
	a.engine, err = filesync.New(opts, a.cache, a.logger, a.metrics)
	return err
}

// finish releases resources and prints metrics if requested.
func (a *app) finish(w io.Writer) {
	if a.flags.metrics && a.metrics != nil {
		if err := a.metrics.WriteText(w); err != nil {
			fmt.Fprintf(w, "failed to write metrics: %v\n", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil && a.logger != nil {
			a.logger.Error(err, "failed to close signature cache")
		}
		a.cache = nil
	}
	if a.shutdownTracing != nil {
		_ = a.shutdownTracing(context.Background())
		a.shutdownTracing = nil
	}
}
