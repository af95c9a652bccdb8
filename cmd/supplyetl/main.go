// Command supplyetl reduces the DataCo supply-chain CSV to a bounded,
// numerically encoded table.
//
// Settings are resolved as flags > environment > pipeline file > defaults:
//
//	supplyetl -config pipeline.json
//	supplyetl -input DataCoSupplyChainDataset.csv -output out/Processed.csv
//	ETL_BATCH_SIZE=500 supplyetl -config pipeline.json -validate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"supplyetl/internal/config"
	"supplyetl/internal/metrics"
	"supplyetl/internal/metrics/datadog"
	"supplyetl/internal/metrics/prompush"

	// every sink kind is selectable from the pipeline file
	_ "supplyetl/internal/storage/all"
)

// metricsEnv holds the metrics settings read from the environment.
type metricsEnv struct {
	Backend        string `env:"METRICS_BACKEND" envDefault:"none"`
	PushgatewayURL string `env:"PUSHGATEWAY_URL" envDefault:"http://localhost:9091"`
	StatsdAddr     string `env:"DD_DOGSTATSD_ADDR" envDefault:"127.0.0.1:8125"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Printf("supplyetl: %v", err)
		stop()
		os.Exit(1)
	}
}

// run parses args, resolves the pipeline and executes it.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("supplyetl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath     = fs.String("config", "", "pipeline config JSON path (defaults apply when empty)")
		input       = fs.String("input", "", "input CSV path (input_path)")
		output      = fs.String("output", "", "output CSV path (output_path)")
		batchSize   = fs.Int("batch-size", 0, "rows per batch")
		maxRows     = fs.Int("max-rows", 0, "maximum rows read from the input")
		strict      = fs.Bool("strict", false, "abort on the first failed batch or date column")
		prefetch    = fs.Bool("prefetch", false, "read the next batch while transforming the current one")
		validate    = fs.Bool("validate", false, "validate the configuration and exit")
		backendFlag = fs.String("metrics-backend", "", "metrics backend: none, pushgateway or datadog (overrides METRICS_BACKEND)")
		verbose     = fs.Bool("v", false, "verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	ov, err := config.ParseEnv()
	if err != nil {
		return err
	}
	ov.Apply(&p)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			p.Source.File.Path = *input
		case "output":
			p.Storage.CSV.Path = *output
		case "batch-size":
			p.Runtime.BatchSize = *batchSize
		case "max-rows":
			p.Runtime.MaxRows = *maxRows
		case "strict":
			p.Runtime.Strict = *strict
		case "prefetch":
			p.Runtime.Prefetch = *prefetch
		}
	})

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}
	if *validate {
		log.Printf("configuration is valid")
		return nil
	}

	var me metricsEnv
	if err := env.Parse(&me); err != nil {
		return fmt.Errorf("parse metrics env: %w", err)
	}
	if *backendFlag != "" {
		me.Backend = *backendFlag
	}
	if flush := setupMetrics(p.Job, me); flush != nil {
		defer flush()
	}

	if *verbose {
		log.Printf("pipeline: source=%s input=%s storage=%s output=%s table=%s",
			p.Source.Kind, p.Source.File.Path, p.Storage.Kind, p.Storage.CSV.Path, p.Storage.DB.Table)
	}

	start := time.Now()
	stats, err := execute(ctx, p)
	if err != nil {
		return err
	}
	if *verbose {
		log.Printf("completed in %s rows=%d digest=%s", time.Since(start).Truncate(time.Millisecond), stats.RowsWritten, stats.Digest)
	}
	return nil
}

// setupMetrics installs the chosen backend and returns its flush func, or
// nil when metrics stay disabled.
func setupMetrics(job string, me metricsEnv) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch me.Backend {
	case "", "none":
		return nil
	case "pushgateway":
		b, err = prompush.NewBackend(job, me.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{Addr: me.StatsdAddr, Namespace: "supplyetl.", Tags: []string{"job:" + job}})
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", me.Backend)
		return nil
	}
	if err != nil {
		log.Printf("metrics: init %s backend: %v; metrics disabled", me.Backend, err)
		return nil
	}
	log.Printf("metrics: backend=%s job=%s", me.Backend, job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}
