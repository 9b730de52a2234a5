package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Unset marks a grace window that should default to one interval.
const Unset = -1

// Policy is the enforcement budget for one governor run.
// It is immutable once the supervisor starts.
type Policy struct {
	MaxRssMB      float64 `yaml:"max_rss_mb" validate:"gt=0"`
	MaxCPUPercent float64 `yaml:"max_cpu_percent" validate:"gte=0"` // 0 = no CPU threshold
	IntervalMs    int     `yaml:"interval_ms" validate:"gt=0"`
	WarnGraceMs   int     `yaml:"warn_grace_ms" validate:"gte=0"`
	KillGraceMs   int     `yaml:"kill_grace_ms" validate:"gte=0"`

	ProtectedPatterns []string `yaml:"protected_patterns" validate:"dive,required"`
	TargetPatterns    []string `yaml:"target_patterns" validate:"dive,required"`
	TargetPids        []int    `yaml:"target_pids" validate:"dive,gt=0"`

	ShutdownGraceMs   int  `yaml:"shutdown_grace_ms" validate:"gte=0"`
	ForceRetries      int  `yaml:"force_retries" validate:"gte=0,lte=10"`
	SampleConcurrency int  `yaml:"sample_concurrency" validate:"gte=1,lte=64"`
	SampleTimeoutMs   int  `yaml:"sample_timeout_ms" validate:"gte=0"`
	ObserveOnly       bool `yaml:"observe_only"`

	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat   string `yaml:"log_format" validate:"omitempty,oneof=text json"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns a policy with every optional field at its default.
// MaxRssMB has no default and must be supplied.
func Defaults() *Policy {
	return &Policy{
		IntervalMs:        5000,
		WarnGraceMs:       Unset,
		KillGraceMs:       Unset,
		ShutdownGraceMs:   2000,
		ForceRetries:      3,
		SampleConcurrency: 8,
		SampleTimeoutMs:   0,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// LoadFile reads a YAML policy on top of Defaults.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	p := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return p, nil
}

// Normalize resolves grace windows left Unset to one interval.
func (p *Policy) Normalize() {
	if p.WarnGraceMs == Unset {
		p.WarnGraceMs = p.IntervalMs
	}
	if p.KillGraceMs == Unset {
		p.KillGraceMs = p.IntervalMs
	}
	if p.SampleConcurrency == 0 {
		p.SampleConcurrency = 8
	}
}

// HasSelectors reports whether daemon mode has anything to watch.
func (p *Policy) HasSelectors() bool {
	return len(p.TargetPatterns) > 0 || len(p.TargetPids) > 0
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks thresholds and selectors. wrapped is true when a command
// will be spawned, in which case no selector is needed.
func (p *Policy) Validate(wrapped bool) error {
	var errs []error

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, &ConfigError{
				Field:  fe.Namespace(),
				Value:  fmt.Sprintf("%v", fe.Value()),
				Reason: describeTag(fe),
			})
		}
	}

	if !wrapped && !p.HasSelectors() {
		errs = append(errs, &ConfigError{
			Field:  "selectors",
			Reason: "no --pattern, --pid or command given",
		})
	}

	if p.MetricsAddr != "" {
		if _, port, err := net.SplitHostPort(p.MetricsAddr); err != nil {
			errs = append(errs, &ConfigError{Field: "MetricsAddr", Value: p.MetricsAddr, Reason: err.Error()})
		} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			errs = append(errs, &ConfigError{Field: "MetricsAddr", Value: p.MetricsAddr, Reason: "invalid port"})
		}
	}

	return errors.Join(errs...)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "required":
		return "must not be empty"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// Interval returns the tick cadence.
func (p *Policy) Interval() time.Duration { return ms(p.IntervalMs) }

// WarnGrace returns the delay between first breach and the graceful signal.
func (p *Policy) WarnGrace() time.Duration { return ms(p.WarnGraceMs) }

// KillGrace returns the delay between the graceful and the forced signal.
func (p *Policy) KillGrace() time.Duration { return ms(p.KillGraceMs) }

// ShutdownGrace returns how long an interrupted wrapper waits for its child.
func (p *Policy) ShutdownGrace() time.Duration { return ms(p.ShutdownGraceMs) }

// SampleTimeout bounds a single tick's sampling. Zero means one interval.
func (p *Policy) SampleTimeout() time.Duration {
	if p.SampleTimeoutMs <= 0 {
		return p.Interval()
	}
	return ms(p.SampleTimeoutMs)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ExampleConfig is printed by `governor config example`.
const ExampleConfig = `# Process resource governor configuration
# Flags and GOVERNOR_* environment variables override these values.

# Memory ceiling per process, in MB (required)
max_rss_mb: 2048

# CPU ceiling in percent of one core (0 = disabled, informational only)
max_cpu_percent: 0

# Tick cadence
interval_ms: 5000

# Grace windows (omit to default to one interval, 0 = act immediately)
warn_grace_ms: 10000
kill_grace_ms: 10000

# Daemon mode selectors
target_patterns:
  - cc1plus
  - node
target_pids: []

# Never touched, even when a target pattern matches
protected_patterns:
  - code-helper
  - "*/jetbrains/*"

# Wrapper shutdown grace on interrupt
shutdown_grace_ms: 2000

# Re-send forced kill to survivors at most this many times
force_retries: 3

# Sampling fan-out per tick
sample_concurrency: 8

# Log only, never signal
observe_only: false

# Decision records (empty = stdout)
log_file: ""
log_level: info
log_format: text

# Prometheus endpoint (empty = disabled)
metrics_addr: ""
`
