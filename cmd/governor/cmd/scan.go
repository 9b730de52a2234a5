package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/psantana5/governor/internal/classify"
	"github.com/psantana5/governor/internal/policy"
	"github.com/psantana5/governor/internal/sampler"
)

func newScanCommand() *cobra.Command {
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Show the processes a policy would govern, without acting",
		Long: `Scan samples the process table once with the same selectors, protection
rules and thresholds as the daemon and prints what it finds. Nothing is
signalled and no state is kept.

Example:
  governor scan --pattern cc1plus --max-rss 2048
  governor scan --pid 4242 --output json
  governor scan --pattern java --output prom > /var/lib/node_exporter/governor.prom`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}

	scan.Flags().String("output", "table", "output format: table, json or prom (textfile collector)")
	scan.Flags().Duration("cpu-window", 500*time.Millisecond, "measure CPU over this window (0 = skip)")
	return scan
}

type scanRow struct {
	PID        int     `json:"pid"`
	RssMB      float64 `json:"rssMB"`
	CPUPercent float64 `json:"cpuPercent"`
	Class      string  `json:"class"`
	OverLimit  bool    `json:"overLimit"`
	Command    string  `json:"command"`
}

type scanReport struct {
	Processes []scanRow           `json:"processes"`
	Denied    []int               `json:"denied,omitempty"`
	Host      *sampler.HostMemory `json:"host,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "table", "json", "prom":
	default:
		return configError(&policy.ConfigError{Field: "output", Value: output, Reason: "must be table, json or prom"})
	}
	window, _ := cmd.Flags().GetDuration("cpu-window")

	p, _, err := resolvePolicy(cmd.Flags(), newEnv())
	if err != nil {
		return configError(err)
	}
	if !p.HasSelectors() {
		return configError(&policy.ConfigError{Field: "selectors", Reason: "scan needs --pattern or --pid"})
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	smp := sampler.NewPsutilSampler(sampler.Options{Concurrency: p.SampleConcurrency})
	sel := sampler.Selector{PIDs: p.TargetPids, Patterns: p.TargetPatterns}

	res, err := smp.Sample(ctx, sel)
	if err != nil {
		return fmt.Errorf("failed to sample processes: %w", err)
	}
	// CPU percent is a delta between two passes over the same processes
	if window > 0 {
		select {
		case <-time.After(window):
		case <-ctx.Done():
			return ctx.Err()
		}
		if res, err = smp.Sample(ctx, sel); err != nil {
			return fmt.Errorf("failed to sample processes: %w", err)
		}
	}

	classifier := classify.New(classify.Rules{
		TargetPIDs:        p.TargetPids,
		TargetPatterns:    p.TargetPatterns,
		ProtectedPatterns: p.ProtectedPatterns,
	})

	rep := scanReport{Processes: make([]scanRow, 0, len(res.Samples))}
	for _, s := range res.Samples {
		tag := classifier.Classify(s)
		rep.Processes = append(rep.Processes, scanRow{
			PID:        s.PID,
			RssMB:      s.RssMB,
			CPUPercent: s.CPUPercent,
			Class:      tag.String(),
			OverLimit:  tag == classify.Target && p.MaxRssMB > 0 && s.RssMB > p.MaxRssMB,
			Command:    s.Command,
		})
	}
	for _, d := range res.Denied {
		rep.Denied = append(rep.Denied, d.PID)
	}
	if host, err := sampler.ReadHostMemory(ctx); err == nil {
		rep.Host = host
	}

	switch output {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(rep)
	case "prom":
		return writeScanExposition(cmd.OutOrStdout(), rep)
	}
	return renderScanTable(cmd.OutOrStdout(), rep, p.MaxRssMB)
}

func renderScanTable(w io.Writer, rep scanReport, maxRss float64) error {
	if len(rep.Processes) == 0 {
		fmt.Fprintln(w, "No matching processes")
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("PID", "RSS (MB)", "CPU %", "Class", "Over Limit", "Command")

		for _, r := range rep.Processes {
			over := "-"
			if maxRss > 0 {
				over = "no"
				if r.OverLimit {
					over = "YES"
				}
			}
			table.Append(
				fmt.Sprintf("%d", r.PID),
				fmt.Sprintf("%.1f", r.RssMB),
				fmt.Sprintf("%.1f", r.CPUPercent),
				r.Class,
				over,
				truncateCommand(r.Command, 60),
			)
		}
		if err := table.Render(); err != nil {
			return errors.Join(errors.New("failed to render table"), err)
		}
	}

	if len(rep.Denied) > 0 {
		fmt.Fprintf(w, "\nPermission denied: %v\n", rep.Denied)
	}
	if rep.Host != nil {
		fmt.Fprintf(w, "\nHost memory: %.0f MB total, %.0f MB available (%.1f%% used)\n",
			rep.Host.TotalMB, rep.Host.AvailableMB, rep.Host.UsedPercent)
	}
	return nil
}

// writeScanExposition renders a scan in the Prometheus text format, for the
// node_exporter textfile collector.
func writeScanExposition(w io.Writer, rep scanReport) error {
	registry := prometheus.NewRegistry()
	rss := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_scan_rss_mb",
		Help: "Resident memory of a matched process in MB",
	}, []string{"pid", "class"})
	cpu := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_scan_cpu_percent",
		Help: "CPU usage of a matched process in percent of one core",
	}, []string{"pid", "class"})
	over := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "governor_scan_over_limit",
		Help: "Number of target processes above the memory ceiling",
	})
	registry.MustRegister(rss, cpu, over)

	for _, r := range rep.Processes {
		pid := fmt.Sprintf("%d", r.PID)
		rss.WithLabelValues(pid, r.Class).Set(r.RssMB)
		cpu.WithLabelValues(pid, r.Class).Set(r.CPUPercent)
		if r.OverLimit {
			over.Inc()
		}
	}

	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather scan metrics: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode scan metrics: %w", err)
		}
	}
	return nil
}

func truncateCommand(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
