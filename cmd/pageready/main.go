// Package main provides the pageready command, which loads pages in a
// headless browser, waits until each one has finished rendering and
// saves its final HTML.
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

	"github.com/entrhq/pageready/pkg/browser"
	"github.com/entrhq/pageready/pkg/capture"
	appconfig "github.com/entrhq/pageready/pkg/config"
	"github.com/entrhq/pageready/pkg/logging"
	"github.com/entrhq/pageready/pkg/readiness"
)

const (
	version          = "0.1.0"
	defaultOutputDir = "captures"
)

// exit codes
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitAborted = 130
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	JobFile      string
	OutputDir    string
	MaxWait      time.Duration
	BaseDelay    time.Duration
	CapDelay     time.Duration
	QueryTimeout time.Duration
	Concurrency  int
	RPS          float64
	Headless     bool
	Hook         string
	StripScripts bool
	LogStderr    bool
	LogLevel     string
	ShowVersion  bool
	URLs         []string

	// set records which flags were given explicitly
	set map[string]bool
}

func (c *CLIConfig) isSet(name string) bool {
	return c.set[name]
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(exitUsage)
	}

	if cfg.ShowVersion {
		fmt.Printf("pageready v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling captures...")
		cancel()
	}()

	code := run(ctx, cfg, os.Stdout)
	cancel()
	os.Exit(code)
}

// parseFlags parses command line flags
func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{set: make(map[string]bool)}
	fs := flag.NewFlagSet("pageready", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.JobFile, "config", "", "Path to a YAML job file")
	fs.StringVar(&cfg.OutputDir, "out", defaultOutputDir, "Directory for captured HTML and metadata")
	fs.DurationVar(&cfg.MaxWait, "max-wait", readiness.DefaultMaxWait, "Readiness budget per page (0 captures after a single check)")
	fs.DurationVar(&cfg.BaseDelay, "base-delay", readiness.DefaultBaseDelay, "Delay step between readiness checks")
	fs.DurationVar(&cfg.CapDelay, "cap-delay", readiness.DefaultCapDelay, "Upper bound on the delay between checks")
	fs.DurationVar(&cfg.QueryTimeout, "query-timeout", readiness.DefaultQueryTimeout, "Timeout for a single readiness check")
	fs.IntVar(&cfg.Concurrency, "concurrency", capture.DefaultConcurrency, "Number of pages captured at once")
	fs.Float64Var(&cfg.RPS, "rps", 0, "Maximum page opens per second (0 for unlimited)")
	fs.BoolVar(&cfg.Headless, "headless", true, "Run the browser without a window")
	fs.StringVar(&cfg.Hook, "hook", readiness.DefaultHook, "Name of the page's custom readiness function")
	fs.BoolVar(&cfg.StripScripts, "strip-scripts", false, "Remove scripts from saved HTML")
	fs.BoolVar(&cfg.LogStderr, "log-stderr", false, "Write logs to stderr instead of the log file")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "pageready - capture the final HTML of dynamic pages\n\n")
		fmt.Fprintf(stderr, "Usage: pageready [options] [url ...]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  # Capture one page\n")
		fmt.Fprintf(stderr, "  pageready https://example.com/\n\n")
		fmt.Fprintf(stderr, "  # Run a batch job with a longer budget\n")
		fmt.Fprintf(stderr, "  pageready -config job.yaml -max-wait 30s\n\n")
		fmt.Fprintf(stderr, "  # Snapshot immediately without waiting\n")
		fmt.Fprintf(stderr, "  pageready -max-wait 0 https://example.com/\n\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })
	cfg.URLs = fs.Args()
	return cfg, nil
}

// run performs the captures and returns the process exit code.
func run(ctx context.Context, cli *CLIConfig, stdout io.Writer) int {
	log, err := newLogger(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer log.Close()

	if initErr := appconfig.Initialize(""); initErr != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize configuration: %v\n", initErr)
		return exitUsage
	}

	var job *capture.Job
	if cli.JobFile != "" {
		job, err = capture.LoadJob(cli.JobFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitUsage
		}
	}

	plan, err := buildPlan(cli, job, appconfig.GetReadiness())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if len(plan.urls) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no URLs to capture (pass URLs or -config)")
		return exitUsage
	}

	log.Infof("pageready v%s run %s: %d URLs, output %s", version, log.RunID(), len(plan.urls), plan.runner.OutputDir)

	detector := readiness.NewDetector(readiness.WithLogger(log.With("readiness")))
	manager := browser.NewSessionManager(detector)
	sessionOpts, launch := browser.SessionOptionsFromConfig(appconfig.GetBrowser())
	if cli.isSet("headless") {
		launch.Headless = cli.Headless
	}
	manager.SetDefaults(sessionOpts)
	manager.SetMaxSessions(plan.runner.Concurrency)

	if initErr := manager.Initialize(launch); initErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", initErr)
		return exitFailed
	}
	defer func() {
		if shutdownErr := manager.Shutdown(); shutdownErr != nil {
			log.Warnf("browser shutdown: %v", shutdownErr)
		}
	}()

	opener := capture.OpenerFunc(func(ctx context.Context, url string) (capture.Page, error) {
		session, openErr := manager.Open(ctx, url)
		if openErr != nil {
			return nil, openErr
		}
		return session, nil
	})

	plan.runner.Logger = log.With("capture")
	runner, err := capture.NewRunner(opener, plan.runner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}

	results := runner.Run(ctx, plan.urls)
	code := printSummary(stdout, results)
	if ctx.Err() != nil {
		return exitAborted
	}
	return code
}

// openFileLogger opens the per-run log file; tests replace it.
var openFileLogger = logging.NewLogger

func newLogger(cli *CLIConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	var log *logging.Logger
	if cli.LogStderr {
		log = logging.NewWriterLogger("pageready", os.Stderr)
	} else {
		var openErr error
		log, openErr = openFileLogger("pageready")
		if openErr != nil {
			// Logger fell back to stderr due to initialization failure
			if log == nil {
				log = logging.NewWriterLogger("pageready", os.Stderr)
			}
			log.Warnf("Failed to initialize file logging, using stderr fallback: %v", openErr)
		}
	}
	log.SetLevel(level)
	return log, nil
}

// plan is the resolved work for one run.
type plan struct {
	urls   []string
	runner capture.RunnerConfig
}

// buildPlan layers settings: built-in defaults, then the saved readiness
// config, then the job file, then explicit flags. Job rules apply last,
// per URL, inside the runner.
func buildPlan(cli *CLIConfig, job *capture.Job, section *appconfig.ReadinessSection) (*plan, error) {
	opts := readiness.DefaultOptions()
	if section != nil {
		saved, err := section.Options()
		if err != nil {
			return nil, fmt.Errorf("saved readiness config: %w", err)
		}
		opts = saved
	}

	p := &plan{
		runner: capture.RunnerConfig{
			OutputDir:    cli.OutputDir,
			Concurrency:  cli.Concurrency,
			RPS:          cli.RPS,
			StripScripts: cli.StripScripts,
		},
	}

	if job != nil {
		opts = job.Apply(opts)
		p.runner.Rules = job.CompiledRules()
		p.urls = append(p.urls, job.URLs...)
		if job.Output != "" && !cli.isSet("out") {
			p.runner.OutputDir = job.Output
		}
		if job.Concurrency > 0 && !cli.isSet("concurrency") {
			p.runner.Concurrency = job.Concurrency
		}
		if job.RPS > 0 && !cli.isSet("rps") {
			p.runner.RPS = job.RPS
		}
		if job.StripScripts && !cli.isSet("strip-scripts") {
			p.runner.StripScripts = true
		}
	}

	if cli.isSet("max-wait") {
		opts.MaxWait = cli.MaxWait
	}
	if cli.isSet("base-delay") {
		opts.BaseDelay = cli.BaseDelay
	}
	if cli.isSet("cap-delay") {
		opts.CapDelay = cli.CapDelay
	}
	if cli.isSet("query-timeout") {
		opts.QueryTimeout = cli.QueryTimeout
	}
	if cli.isSet("hook") {
		probe, err := readiness.ProbeWithHook(cli.Hook)
		if err != nil {
			return nil, fmt.Errorf("-hook: %w", err)
		}
		opts.Probe = probe
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p.runner.Options = opts

	// The browser session limit is sized from this value
	switch {
	case p.runner.Concurrency < 0:
		return nil, fmt.Errorf("invalid concurrency %d", p.runner.Concurrency)
	case p.runner.Concurrency == 0:
		p.runner.Concurrency = capture.DefaultConcurrency
	}

	for _, u := range cli.URLs {
		if err := capture.ValidateURL(u); err != nil {
			return nil, err
		}
		p.urls = append(p.urls, u)
	}
	return p, nil
}

// printSummary writes one line per result and returns exitFailed if any
// capture ended in error.
func printSummary(w io.Writer, results []capture.Result) int {
	code := exitOK
	for _, res := range results {
		file := "-"
		if res.Metadata != nil && res.Metadata.HTMLFile != "" {
			file = res.Metadata.HTMLFile
		}
		fmt.Fprintf(w, "%-10s %3d  %8s  %-40s  %s\n",
			res.Reason, res.Outcome.Attempts, res.Outcome.Elapsed.Round(time.Millisecond), file, res.URL)
		if res.Err != nil && res.Reason == readiness.ReasonError {
			fmt.Fprintf(w, "           error: %v\n", res.Err)
		}
		if res.Reason == readiness.ReasonError {
			code = exitFailed
		}
	}
	return code
}
