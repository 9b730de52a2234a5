package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/psantana5/governor/internal/policy"
)

// envKeys maps policy keys to the environment variables viper reads.
var envKeys = []string{
	"config",
	"max_rss_mb",
	"max_cpu_percent",
	"interval_ms",
	"warn_grace_ms",
	"kill_grace_ms",
	"target_patterns",
	"target_pids",
	"protected_patterns",
	"shutdown_grace_ms",
	"force_retries",
	"observe_only",
	"log_file",
	"log_level",
	"log_format",
	"metrics_addr",
}

// newEnv binds every policy key to GOVERNOR_<KEY>.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GOVERNOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, key := range envKeys {
		v.BindEnv(key)
	}
	return v
}

// configPath returns --config, GOVERNOR_CONFIG, or a discovered config file.
func configPath(flagValue string, env *viper.Viper) string {
	if flagValue != "" {
		return flagValue
	}
	if env.IsSet("config") {
		return env.GetString("config")
	}

	finder := viper.New()
	finder.SetConfigName("config")
	finder.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		finder.AddConfigPath(filepath.Join(home, ".governor"))
	}
	finder.AddConfigPath("/etc/governor")
	// a file that exists but does not parse is still reported by LoadFile
	err := finder.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && errors.As(err, &notFound) {
		return ""
	}
	return finder.ConfigFileUsed()
}

// resolvePolicy layers defaults, config file, environment and flags, in
// increasing precedence, and normalizes the result.
func resolvePolicy(flags *pflag.FlagSet, env *viper.Viper) (*policy.Policy, string, error) {
	cfgFlag, _ := flags.GetString("config")
	path := configPath(cfgFlag, env)

	p := policy.Defaults()
	if path != "" {
		loaded, err := policy.LoadFile(path)
		if err != nil {
			return nil, path, err
		}
		p = loaded
	}

	if err := applyEnv(p, env); err != nil {
		return nil, path, err
	}
	if err := applyFlags(p, flags); err != nil {
		return nil, path, err
	}

	p.Normalize()
	return p, path, nil
}

func applyEnv(p *policy.Policy, env *viper.Viper) error {
	var errs []error

	floatVar := func(key string, dst *float64) {
		if !env.IsSet(key) {
			return
		}
		raw := env.GetString(key)
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			errs = append(errs, envError(key, raw, "not a number"))
			return
		}
		*dst = f
	}
	intVar := func(key string, dst *int) {
		if !env.IsSet(key) {
			return
		}
		raw := env.GetString(key)
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, envError(key, raw, "not an integer"))
			return
		}
		*dst = n
	}
	listVar := func(key string, dst *[]string) {
		if env.IsSet(key) {
			*dst = splitList(env.GetString(key))
		}
	}
	stringVar := func(key string, dst *string) {
		if env.IsSet(key) {
			*dst = env.GetString(key)
		}
	}

	floatVar("max_rss_mb", &p.MaxRssMB)
	floatVar("max_cpu_percent", &p.MaxCPUPercent)
	intVar("interval_ms", &p.IntervalMs)
	intVar("warn_grace_ms", &p.WarnGraceMs)
	intVar("kill_grace_ms", &p.KillGraceMs)
	intVar("shutdown_grace_ms", &p.ShutdownGraceMs)
	intVar("force_retries", &p.ForceRetries)
	listVar("target_patterns", &p.TargetPatterns)
	listVar("protected_patterns", &p.ProtectedPatterns)
	stringVar("log_file", &p.LogFile)
	stringVar("log_level", &p.LogLevel)
	stringVar("log_format", &p.LogFormat)
	stringVar("metrics_addr", &p.MetricsAddr)

	if env.IsSet("target_pids") {
		raw := env.GetString("target_pids")
		pids := make([]int, 0)
		for _, item := range splitList(raw) {
			pid, err := strconv.Atoi(item)
			if err != nil {
				errs = append(errs, envError("target_pids", raw, "not a list of integers"))
				break
			}
			pids = append(pids, pid)
		}
		p.TargetPids = pids
	}
	if env.IsSet("observe_only") {
		raw := env.GetString("observe_only")
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, envError("observe_only", raw, "not a boolean"))
		} else {
			p.ObserveOnly = b
		}
	}

	return errors.Join(errs...)
}

func envError(key, value, reason string) error {
	return &policy.ConfigError{
		Field:  "GOVERNOR_" + strings.ToUpper(key),
		Value:  value,
		Reason: reason,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// applyFlags copies every flag the user actually set.
func applyFlags(p *policy.Policy, flags *pflag.FlagSet) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "pattern":
			p.TargetPatterns, err = flags.GetStringArray(f.Name)
		case "pid":
			p.TargetPids, err = flags.GetIntSlice(f.Name)
		case "protect":
			p.ProtectedPatterns, err = flags.GetStringArray(f.Name)
		case "max-rss":
			p.MaxRssMB, err = flags.GetFloat64(f.Name)
		case "max-cpu":
			p.MaxCPUPercent, err = flags.GetFloat64(f.Name)
		case "interval":
			p.IntervalMs, err = flags.GetInt(f.Name)
		case "warn-grace":
			p.WarnGraceMs, err = flags.GetInt(f.Name)
		case "kill-grace":
			p.KillGraceMs, err = flags.GetInt(f.Name)
		case "shutdown-grace":
			p.ShutdownGraceMs, err = flags.GetInt(f.Name)
		case "force-retries":
			p.ForceRetries, err = flags.GetInt(f.Name)
		case "observe-only":
			p.ObserveOnly, err = flags.GetBool(f.Name)
		case "log-file":
			p.LogFile, err = flags.GetString(f.Name)
		case "log-level":
			p.LogLevel, err = flags.GetString(f.Name)
		case "log-format":
			p.LogFormat, err = flags.GetString(f.Name)
		case "metrics-addr":
			p.MetricsAddr, err = flags.GetString(f.Name)
		}
	})
	return err
}
