package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/psantana5/governor/internal/enforce"
	"github.com/psantana5/governor/internal/logging"
	"github.com/psantana5/governor/internal/policy"
	"github.com/psantana5/governor/internal/report"
	"github.com/psantana5/governor/internal/sampler"
	"github.com/psantana5/governor/internal/supervisor"
)

// ExitConfigError is returned for any invalid flag, variable or config file.
const ExitConfigError = 1

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error {
	return &exitError{code: ExitConfigError, err: fmt.Errorf("configuration error: %w", err)}
}

// Execute runs the governor with the process arguments and returns the exit code.
func Execute() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes one command line. Separate from Execute for tests.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	// flag parsing and unknown commands
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitConfigError
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "governor [flags] [-- command [args...]]",
		Short: "Per-process memory and CPU governor",
		Long: `governor watches processes and enforces a memory budget with a graduated
response: log a warning, then send SIGTERM, then SIGKILL. Protected processes
are never touched.

Daemon mode watches every process matching --pattern or --pid until
interrupted. Wrapper mode runs a single command and exits with its status.

Example:
  governor --pattern cc1plus --max-rss 2048 --warn-grace 10000 --kill-grace 10000
  governor --max-rss 4096 -- make -j16
  governor --config /etc/governor/config.yaml`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runGovernor,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML policy file (default $HOME/.governor/config.yaml or /etc/governor/config.yaml)")
	flags.StringArray("pattern", nil, "command line substring or glob to target (repeatable)")
	flags.IntSlice("pid", nil, "process id to target (repeatable)")
	flags.StringArray("protect", nil, "command line substring or glob that is never touched (repeatable)")
	flags.Float64("max-rss", 0, "resident memory ceiling per process in MB (env GOVERNOR_MAX_RSS_MB)")

	local := root.Flags()
	local.Float64("max-cpu", 0, "CPU ceiling in percent, informational only (0 = off)")
	local.Int("interval", 5000, "sampling interval in ms (env GOVERNOR_INTERVAL_MS)")
	local.Int("warn-grace", policy.Unset, "ms from first breach to SIGTERM (default one interval)")
	local.Int("kill-grace", policy.Unset, "ms from SIGTERM to SIGKILL (default one interval)")
	local.Int("shutdown-grace", 2000, "ms a wrapped command gets to exit after an interrupt")
	local.Int("force-retries", 3, "extra SIGKILL attempts for a process that survives one")
	local.Bool("observe-only", false, "decide and report but never send signals")
	local.String("log-file", "", "write decision records to a rotated file instead of stdout")
	local.String("log-level", "info", "operator log level: debug, info, warn, error")
	local.String("log-format", "text", "operator log format: text or json")
	local.String("metrics-addr", "", "serve /metrics and /healthz on this address, e.g. :9105")

	root.AddCommand(newScanCommand())
	root.AddCommand(newConfigCommand())
	return root
}

func runGovernor(cmd *cobra.Command, args []string) error {
	var argv []string
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		if dash > 0 {
			return configError(fmt.Errorf("unexpected arguments before --: %v", args[:dash]))
		}
		argv = args[dash:]
	} else if len(args) > 0 {
		return configError(fmt.Errorf("unknown command %q; put the command to wrap after --", args[0]))
	}
	wrapped := len(argv) > 0

	p, _, err := resolvePolicy(cmd.Flags(), newEnv())
	if err != nil {
		return configError(err)
	}
	if err := p.Validate(wrapped); err != nil {
		return configError(err)
	}

	logger := logging.NewLogger(logging.ParseLevel(p.LogLevel), p.LogFormat == "json").
		WithField("run_id", uuid.NewString())
	logger.SetOutput(cmd.ErrOrStderr())

	sink, err := openRecordSink(p, wrapped, cmd)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	defer sink.Close()

	reporter := report.NewReporter(sink)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := report.NewMetrics(registry)

	smp := sampler.NewPsutilSampler(sampler.Options{
		Concurrency: p.SampleConcurrency,
		Timeout:     p.SampleTimeout(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if host, err := sampler.ReadHostMemory(ctx); err == nil {
		logger.Info("host memory", logging.Fields{
			"total_mb":     int64(host.TotalMB),
			"available_mb": int64(host.AvailableMB),
			"used_percent": fmt.Sprintf("%.1f", host.UsedPercent),
		})
	}

	health := supervisor.NewHealthCheck(p.Interval())
	sup, err := supervisor.New(supervisor.Config{
		Policy:   p,
		Sampler:  smp,
		Enforcer: enforce.New(enforce.Options{ObserveOnly: p.ObserveOnly}),
		Reporter: reporter,
		Metrics:  metrics,
		Health:   health,
		Logger:   logger,
		Notifier: supervisor.SystemdNotifier{Logger: logger},
	})
	if err != nil {
		return configError(err)
	}

	if p.MetricsAddr != "" {
		srv := report.NewServer(report.ServerConfig{
			Addr:     p.MetricsAddr,
			Gatherer: registry,
			Health:   health,
			Recent:   reporter.Recent(),
			Logger:   logger,
		})
		if err := srv.Start(); err != nil {
			return &exitError{code: ExitConfigError, err: err}
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var code int
	if wrapped {
		code, err = sup.RunWrapped(ctx, argv)
	} else {
		code, err = sup.RunDaemon(ctx)
	}
	if err != nil || code != 0 {
		return &exitError{code: code, err: err}
	}
	return nil
}

// openRecordSink picks the record destination. A wrapped command owns stdout,
// so its records default to stderr.
func openRecordSink(p *policy.Policy, wrapped bool, cmd *cobra.Command) (io.WriteCloser, error) {
	if p.LogFile != "" {
		return report.OpenSink(p.LogFile)
	}
	if wrapped {
		return nopWriteCloser{cmd.ErrOrStderr()}, nil
	}
	return nopWriteCloser{cmd.OutOrStdout()}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
