// Command pinec compiles strategy scripts and evaluates them from the
// command line.
//
// Usage:
//
//	pinec compile [--emit] script.pine
//	pinec validate [--server host:port] script.pine
//	pinec eval --csv bars.csv [--params params.yaml] [--set name=value ...] script.pine
//	pinec eval --symbol AAPL --timeframe 1Hour --start 2024-01-01 --end 2024-06-01 script.pine
//	pinec eval --symbol AAPL --api-url http://localhost:8000 script.pine
//	pinec catalog [--category oscillator]
//
// Symbol mode reads bars from the market-data API when --api-url or
// PINEC_BACKEND_URL is set, and from PostgreSQL (PINEC_DB_* settings)
// otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/algomatic/pinec/internal/config"
	"github.com/algomatic/pinec/pkg/barfeed"
	"github.com/algomatic/pinec/pkg/compiler"
	"github.com/algomatic/pinec/pkg/rpc"
	"github.com/algomatic/pinec/pkg/store"
	"github.com/algomatic/pinec/pkg/ta"
	"github.com/algomatic/pinec/pkg/types"
)

const usage = `usage: pinec <command> [flags] [script]

commands:
  compile   compile a script and describe it (--emit prints the program)
  validate  print errors and warnings for a script
  eval      compute the four signals over CSV or database bars
  catalog   list the indicator functions
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "compile":
		err = runCompile(args, os.Stdout)
	case "validate":
		err = runValidate(args, os.Stdout)
	case "eval":
		err = runEval(args, os.Stdout)
	case "catalog":
		err = runCatalog(args, os.Stdout)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// readScript reads the single positional script path; "-" reads stdin.
func readScript(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one script path, got %d", fs.NArg())
	}
	path := fs.Arg(0)
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

func runCompile(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	emit := fs.Bool("emit", false, "Print the lowered program instead of a summary")
	verbose := fs.Bool("v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	source, err := readScript(fs)
	if err != nil {
		return err
	}

	cs, err := compiler.Compile(source, compiler.WithLogger(newLogger(*verbose)))
	if err != nil {
		return err
	}
	if *emit {
		_, err := fmt.Fprintln(out, cs.Program())
		return err
	}
	printSummary(out, cs)
	return nil
}

func printSummary(out io.Writer, cs *compiler.CompiledStrategy) {
	name := cs.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "%-16s %s\n", "Strategy:", name)
	fmt.Fprintf(out, "%-16s %d bars\n", "Warmup:", cs.Warmup)
	fmt.Fprintf(out, "%-16s %s (%s)\n", "Capital:", cs.Settings.InitialCapital, "initial")
	fmt.Fprintf(out, "%-16s %s %s\n", "Commission:", cs.Settings.Commission, cs.Settings.CommissionType)
	fmt.Fprintf(out, "%-16s %s\n", "Functions:", strings.Join(cs.Functions, ", "))
	fmt.Fprintf(out, "%-16s %s\n", "Columns:", strings.Join(cs.Columns, ", "))
	if len(cs.InputOrder) > 0 {
		fmt.Fprintln(out, "Inputs:")
		for _, n := range cs.InputOrder {
			spec := cs.Inputs[n]
			fmt.Fprintf(out, "  %-14s %-7s default=%v", n, spec.Kind, spec.Default)
			if spec.Min != nil {
				fmt.Fprintf(out, " min=%g", *spec.Min)
			}
			if spec.Max != nil {
				fmt.Fprintf(out, " max=%g", *spec.Max)
			}
			if len(spec.Options) > 0 {
				fmt.Fprintf(out, " options=%s", strings.Join(spec.Options, "|"))
			}
			fmt.Fprintln(out)
		}
	}
	for _, w := range compiler.Warnings(cs) {
		fmt.Fprintln(out, w)
	}
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

var errInvalid = errors.New("script is invalid")

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	server := fs.String("server", "", "Validate on a running pinec-server (gRPC host:port)")
	timeout := fs.Duration("timeout", 10*time.Second, "Timeout for --server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	source, err := readScript(fs)
	if err != nil {
		return err
	}

	var (
		valid bool
		diags []string
	)
	if *server != "" {
		valid, diags, err = validateRemote(*server, source, *timeout)
		if err != nil {
			return err
		}
	} else {
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		cs, cerr := compiler.Compile(source, compiler.WithLogger(quiet))
		if cerr != nil {
			diags = []string{cerr.Error()}
		} else {
			valid, diags = true, compiler.Warnings(cs)
		}
	}

	for _, d := range diags {
		fmt.Fprintln(out, d)
	}
	if !valid {
		return errInvalid
	}
	if len(diags) == 0 {
		fmt.Fprintln(out, "ok")
	}
	return nil
}

func validateRemote(addr, source string, timeout time.Duration) (bool, []string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := rpc.NewClient(conn).Validate(ctx, map[string]any{"source": source})
	if err != nil {
		return false, nil, fmt.Errorf("remote validate: %w", err)
	}
	m := resp.AsMap()
	valid, _ := m["valid"].(bool)
	var diags []string
	if list, ok := m["diagnostics"].([]any); ok {
		for _, d := range list {
			diags = append(diags, fmt.Sprint(d))
		}
	}
	return valid, diags, nil
}

// ---------------------------------------------------------------------------
// eval
// ---------------------------------------------------------------------------

func runEval(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	csvFile := fs.String("csv", "", "Path to CSV file with timestamp,open,high,low,close,volume")
	symbol := fs.String("symbol", "", "Ticker symbol to load from the market-data API or database")
	timeframe := fs.String("timeframe", "1Day", "Bar timeframe for --symbol (1Min, 15Min, 1Hour, 1Day)")
	startDate := fs.String("start", "", "Start date for --symbol (ISO format)")
	endDate := fs.String("end", "", "End date for --symbol (ISO format)")
	apiURL := fs.String("api-url", "", "Market-data API base URL for --symbol (default: PINEC_BACKEND_URL)")
	paramsFile := fs.String("params", "", "YAML file of input overrides")
	outputFile := fs.String("output", "", "Path for output CSV (default: stdout)")
	verbose := fs.Bool("v", false, "Verbose logging")
	set := paramFlags{}
	fs.Var(set, "set", "Input override name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	source, err := readScript(fs)
	if err != nil {
		return err
	}
	logger := newLogger(*verbose)

	params := map[string]any{}
	if *paramsFile != "" {
		if params, err = loadParams(*paramsFile); err != nil {
			return err
		}
	}
	for k, v := range set {
		params[k] = v
	}

	cs, err := compiler.Compile(source, compiler.WithLogger(logger))
	if err != nil {
		return err
	}

	var bars *types.BarTable
	switch {
	case *csvFile != "" && *symbol != "":
		return fmt.Errorf("specify either --csv or --symbol, not both")
	case *csvFile != "":
		if bars, err = loadCSV(*csvFile); err != nil {
			return fmt.Errorf("loading CSV: %w", err)
		}
		logger.Info("Loaded bar data from CSV", "bars", bars.Len(), "file", *csvFile)
	case *symbol != "":
		if bars, err = loadBySymbol(logger, *apiURL, *symbol, *timeframe, *startDate, *endDate); err != nil {
			return fmt.Errorf("loading bars for %s: %w", *symbol, err)
		}
	default:
		return fmt.Errorf("must specify --csv or --symbol for data source")
	}

	warmup, err := cs.EffectiveWarmup(params)
	if err != nil {
		return err
	}
	if warmup >= bars.Len() {
		logger.Warn("Warmup covers every bar; all signals will be false", "warmup", warmup, "bars", bars.Len())
	}

	start := time.Now()
	tuple, err := cs.Compute(bars, params)
	if err != nil {
		return err
	}
	logger.Info("Computed signals",
		"bars", bars.Len(),
		"warmup", warmup,
		"long_entries", tuple.Count(types.LongEntry),
		"short_entries", tuple.Count(types.ShortEntry),
		"elapsed", time.Since(start),
	)

	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return writeSignals(out, bars, tuple)
}

// loadBySymbol reads bars from the market-data API when one is configured,
// else from the database.
func loadBySymbol(logger *slog.Logger, apiURL, symbol, timeframe, startDate, endDate string) (*types.BarTable, error) {
	q := store.BarQuery{Symbol: symbol, Timeframe: timeframe}
	if startDate != "" {
		t, err := parseTimestamp(startDate)
		if err != nil {
			return nil, fmt.Errorf("invalid --start: %w", err)
		}
		q.Start = &t
	}
	if endDate != "" {
		t, err := parseTimestamp(endDate)
		if err != nil {
			return nil, fmt.Errorf("invalid --end: %w", err)
		}
		q.End = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var (
		bars *types.BarTable
		err  error
	)
	if apiURL != "" {
		bars, err = barfeed.NewClient(strings.TrimRight(apiURL, "/"), &barfeed.Config{Logger: logger}).LoadBars(ctx, q)
	} else {
		var cfg *config.Config
		if cfg, err = config.Load(); err != nil {
			return nil, err
		}
		if cfg.Backend.URL != "" && !cfg.Database.Enabled {
			bars, err = barfeed.NewClient(cfg.Backend.URL, &barfeed.Config{Timeout: cfg.Backend.Timeout, Logger: logger}).LoadBars(ctx, q)
		} else {
			bars, err = loadFromDB(ctx, logger, cfg, q)
		}
	}
	if err != nil {
		return nil, err
	}
	if bars.Len() == 0 {
		return nil, fmt.Errorf("no bars for %s/%s (%s to %s)", symbol, timeframe, startDate, endDate)
	}
	return bars, nil
}

func loadFromDB(ctx context.Context, logger *slog.Logger, cfg *config.Config, q store.BarQuery) (*types.BarTable, error) {
	pool, err := store.NewPool(ctx, cfg.Database.ConnString(), 2, 1, logger)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	return store.NewBarRepo(pool, logger).LoadBars(ctx, q)
}

// ---------------------------------------------------------------------------
// catalog
// ---------------------------------------------------------------------------

func runCatalog(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	category := fs.String("category", "", "Only list one category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ds := ta.All()
	if *category != "" {
		ds = ta.ByCategory(*category)
		if len(ds) == 0 {
			return fmt.Errorf("unknown category %q (have %s)", *category, strings.Join(ta.Categories(), ", "))
		}
	}
	fmt.Fprintf(out, "%-48s %-16s %s\n", "Signature", "Category", "Summary")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, d := range ds {
		fmt.Fprintf(out, "%-48s %-16s %s\n", d.Signature(), d.Category, d.Summary)
	}
	fmt.Fprintf(out, "\nTotal: %d functions\n", len(ds))
	return nil
}
