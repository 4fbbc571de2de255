package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/database"
	"github.com/gymtable/gymtable-backend/internal/extractor"
	"github.com/gymtable/gymtable-backend/internal/logger"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()

	var logLevel, logFile string
	flag.StringVar(&logLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	flag.StringVar(&logFile, "log-file", cfg.LogFile, "Also append JSON logs to this file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	log, closeLog, err := logger.Setup(logLevel, cfg.LogFormat, logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, log, os.Stdout, args[0], args[1:])
	stop()
	closeLog()

	switch {
	case errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUsage):
		printUsage()
		os.Exit(2)
	case err != nil:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

// app bundles what the subcommands need. Everything is opened lazily so
// "aggregate" works without a database or an API key.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	out io.Writer

	store *store.Store
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	backend, err := database.OpenBackend(ctx, a.cfg.DatabaseURL, a.cfg.MaxDBConns, a.log)
	if err != nil {
		return nil, fmt.Errorf("open schedule store: %w", err)
	}
	a.store = store.New(backend, store.WithLogger(a.log))
	return a.store, nil
}

// pipeline builds a PipelineService. withEngine=false leaves extraction off.
func (a *app) pipeline(ctx context.Context, withEngine bool) (*service.PipelineService, error) {
	var ex *extractor.Extractor
	if withEngine {
		var err error
		ex, err = extractor.FromConfig(ctx, a.cfg, a.log)
		switch {
		case errors.Is(err, extractor.ErrMissingAPIKey):
			a.log.Warn().Msg("GEMINI_API_KEY not set, extraction is disabled")
		case err != nil:
			return nil, err
		}
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewPipelineService(a.cfg, ex, st, nil, nil, a.log), nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close schedule store")
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, out io.Writer, command string, args []string) error {
	a := &app{cfg: cfg, log: log, out: out}
	defer a.close()

	switch command {
	case "extract":
		return a.extract(ctx, args)
	case "aggregate":
		return a.aggregate(ctx, args)
	case "load":
		return a.load(ctx, args)
	case "run":
		return a.runAll(ctx, args)
	case "query":
		return a.query(ctx, args)
	default:
		return errUsage
	}
}

func (a *app) extract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	force := fs.Bool("force", false, "Re-extract images whose JSON is up to date")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ex, err := extractor.FromConfig(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := ex.ExtractDir(ctx, a.cfg.ImageDir, a.cfg.JSONDir, *force)
	if err != nil {
		return err
	}
	printExtraction(a.out, report)
	fmt.Fprintf(a.out, "took %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *app) aggregate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Aggregation never touches the store.
	svc := service.NewPipelineService(a.cfg, nil, nil, nil, nil, a.log)
	summary, _, err := svc.Aggregate(ctx)
	if err != nil {
		return err
	}
	printAggregation(a.out, summary)
	return nil
}

func (a *app) load(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	file := fs.String("file", "", "Interchange JSON to load (default: the aggregated file)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := a.pipeline(ctx, false)
	if err != nil {
		return err
	}
	stats, err := svc.Load(ctx, *file)
	if err != nil {
		return err
	}
	printStats(a.out, stats)
	return nil
}

func (a *app) runAll(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	force := fs.Bool("force", false, "Re-extract images whose JSON is up to date")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := a.pipeline(ctx, true)
	if err != nil {
		return err
	}

	if a.cfg.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.PipelineTimeout)
		defer cancel()
	}

	report, err := svc.Run(ctx, service.RunOptions{Force: *force})
	if err != nil {
		return err
	}
	if report.Extraction != nil {
		printExtraction(a.out, *report.Extraction)
	}
	printAggregation(a.out, report.Aggregation)
	printStats(a.out, report.Stats)
	fmt.Fprintf(a.out, "took %s\n", report.Duration)
	return nil
}

func (a *app) query(ctx context.Context, args []string) error {
	q, summary, err := parseQuery(args)
	if err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	svc := service.NewScheduleService(st)

	if summary {
		counts, err := svc.Summary(ctx)
		if err != nil {
			return err
		}
		printSummary(a.out, counts)
		return nil
	}

	classes, err := svc.Query(ctx, q)
	if err != nil {
		return err
	}
	printClasses(a.out, q.Describe(), classes)
	return nil
}

// parseQuery reads the query subcommand flags. -min-vacancy is only set when
// given so that 0 still means "any open spot count".
func parseQuery(args []string) (service.ClassQuery, bool, error) {
	var q service.ClassQuery
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.StringVar(&q.Date, "date", "", "Exact date, YYYY-MM-DD")
	fs.StringVar(&q.Activity, "activity", "", "Activity name contains")
	fs.StringVar(&q.Day, "day", "", "Day of week contains")
	minVacancy := fs.Int("min-vacancy", -1, "At least this many open spots")
	summary := fs.Bool("summary", false, "Show class counts per activity")
	if err := fs.Parse(args); err != nil {
		return q, false, err
	}

	if q.Date != "" {
		if _, err := time.Parse(model.DateLayout, q.Date); err != nil {
			return q, false, fmt.Errorf("invalid -date %q, want YYYY-MM-DD", q.Date)
		}
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "min-vacancy" {
			q.MinVacancy = minVacancy
		}
	})
	if q.MinVacancy != nil && *q.MinVacancy < 0 {
		return q, false, fmt.Errorf("invalid -min-vacancy %d, must not be negative", *q.MinVacancy)
	}
	return q, *summary, nil
}

func printUsage() {
	fmt.Println("Usage: gymtable [flags] <command> [command flags]")
	fmt.Println("Commands:")
	fmt.Println("  extract   [-force]                 extract every screenshot in IMAGE_DIR")
	fmt.Println("  aggregate                          combine JSON_DIR into the aggregated file")
	fmt.Println("  load      [-file path]             upsert an interchange file into the store")
	fmt.Println("  run       [-force]                 extract, aggregate and load")
	fmt.Println("  query     [-date|-activity|-day|-min-vacancy] [-summary]")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
