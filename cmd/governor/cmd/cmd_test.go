package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"
)

// isolate keeps a developer's own config and environment out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, key := range envKeys {
		t.Setenv("GOVERNOR_"+strings.ToUpper(key), "")
		os.Unsetenv("GOVERNOR_" + strings.ToUpper(key))
	}
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "governor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolvePolicyPrecedence(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
max_rss_mb: 100
interval_ms: 1000
target_patterns: [from-file]
protected_patterns: [keep-me]
`)
	t.Setenv("GOVERNOR_CONFIG", path)
	t.Setenv("GOVERNOR_MAX_RSS_MB", "200")
	t.Setenv("GOVERNOR_INTERVAL_MS", "2000")

	root := NewRootCommand()
	if err := root.ParseFlags([]string{"--max-rss", "300", "--pattern", "from-flag", "--pattern", "again"}); err != nil {
		t.Fatal(err)
	}

	p, used, err := resolvePolicy(root.Flags(), newEnv())
	if err != nil {
		t.Fatalf("resolvePolicy() error = %v", err)
	}
	if used != path {
		t.Errorf("config path = %q, want %q", used, path)
	}
	if p.MaxRssMB != 300 {
		t.Errorf("MaxRssMB = %v, want flag value 300", p.MaxRssMB)
	}
	if p.IntervalMs != 2000 {
		t.Errorf("IntervalMs = %d, want env value 2000", p.IntervalMs)
	}
	if p.WarnGraceMs != 2000 || p.KillGraceMs != 2000 {
		t.Errorf("grace windows = %d/%d, want one interval", p.WarnGraceMs, p.KillGraceMs)
	}
	if !reflect.DeepEqual(p.TargetPatterns, []string{"from-flag", "again"}) {
		t.Errorf("TargetPatterns = %v", p.TargetPatterns)
	}
	if !reflect.DeepEqual(p.ProtectedPatterns, []string{"keep-me"}) {
		t.Errorf("ProtectedPatterns = %v, want file value", p.ProtectedPatterns)
	}
}

func TestResolvePolicyDiscoversHomeConfig(t *testing.T) {
	home := isolate(t)
	if err := os.MkdirAll(filepath.Join(home, ".governor"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, filepath.Join(home, ".governor"), "max_rss_mb: 64\n")
	if err := os.Rename(path, filepath.Join(home, ".governor", "config.yaml")); err != nil {
		t.Fatal(err)
	}

	root := NewRootCommand()
	p, used, err := resolvePolicy(root.Flags(), newEnv())
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxRssMB != 64 || !strings.HasSuffix(used, filepath.Join(".governor", "config.yaml")) {
		t.Errorf("got MaxRssMB=%v from %q", p.MaxRssMB, used)
	}
}

func TestResolvePolicyEnvLists(t *testing.T) {
	isolate(t)
	t.Setenv("GOVERNOR_TARGET_PIDS", "10, 20,30")
	t.Setenv("GOVERNOR_PROTECTED_PATTERNS", "sshd, systemd*")
	t.Setenv("GOVERNOR_OBSERVE_ONLY", "true")

	p, _, err := resolvePolicy(NewRootCommand().Flags(), newEnv())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.TargetPids, []int{10, 20, 30}) {
		t.Errorf("TargetPids = %v", p.TargetPids)
	}
	if !reflect.DeepEqual(p.ProtectedPatterns, []string{"sshd", "systemd*"}) {
		t.Errorf("ProtectedPatterns = %v", p.ProtectedPatterns)
	}
	if !p.ObserveOnly {
		t.Error("ObserveOnly not set from environment")
	}
}

func TestResolvePolicyEnvErrors(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"GOVERNOR_INTERVAL_MS", "soon"},
		{"GOVERNOR_MAX_RSS_MB", "lots"},
		{"GOVERNOR_TARGET_PIDS", "1,two"},
		{"GOVERNOR_OBSERVE_ONLY", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.value)

			_, _, err := resolvePolicy(NewRootCommand().Flags(), newEnv())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestResolvePolicyBadConfigFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "max_rss_mb: 10\nunknown_key: 1\n")

	root := NewRootCommand()
	if err := root.ParseFlags([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := resolvePolicy(root.Flags(), newEnv()); err == nil {
		t.Error("unknown config key accepted")
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no limit", []string{"--pattern", "x"}, "MaxRssMB"},
		{"no selectors", []string{"--max-rss", "10"}, "selectors"},
		{"zero interval", []string{"--max-rss", "10", "--pattern", "x", "--interval", "0"}, "IntervalMs"},
		{"negative warn grace", []string{"--max-rss", "10", "--pattern", "x", "--warn-grace", "-5000"}, "WarnGraceMs"},
		{"negative kill grace", []string{"--max-rss", "10", "--pattern", "x", "--kill-grace", "-2"}, "KillGraceMs"},
		{"bare argument", []string{"--max-rss", "10", "make"}, "after --"},
		{"unknown flag", []string{"--max-rss", "10", "--bogus"}, "bogus"},
		{"bad metrics addr", []string{"--max-rss", "10", "--pattern", "x", "--metrics-addr", "nope"}, "MetricsAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			var stdout, stderr bytes.Buffer

			code := Run(tt.args, &stdout, &stderr)
			if code != ExitConfigError {
				t.Errorf("exit code = %d, want %d", code, ExitConfigError)
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr %q does not mention %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestRunConfigExample(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	if code := Run([]string{"config", "example"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "max_rss_mb:") {
		t.Errorf("example config missing max_rss_mb:\n%s", stdout.String())
	}
}

func TestRunConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"daemon", []string{"config", "validate", "--max-rss", "512", "--pattern", "cc1plus"}, 0, "max_rss_mb: 512"},
		{"wrapper without selectors", []string{"config", "validate", "--max-rss", "512", "--wrapper"}, 0, "configuration valid"},
		{"daemon without selectors", []string{"config", "validate", "--max-rss", "512"}, ExitConfigError, ""},
		{"missing limit", []string{"config", "validate", "--wrapper"}, ExitConfigError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			var stdout, stderr bytes.Buffer

			code := Run(tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr %s)", code, tt.wantCode, stderr.String())
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout %q does not contain %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestRunScanRequiresSelectors(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	if code := Run([]string{"scan"}, &stdout, &stderr); code != ExitConfigError {
		t.Errorf("exit code = %d, want %d", code, ExitConfigError)
	}
	if code := Run([]string{"scan", "--pid", "1", "--output", "xml"}, &stdout, &stderr); code != ExitConfigError {
		t.Errorf("bad output format exit code = %d", code)
	}
}

func TestRunScanJSON(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	args := []string{"scan", "--pid", strconv.Itoa(os.Getpid()), "--output", "json", "--cpu-window", "0"}
	if code := Run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"processes"`) {
		t.Errorf("unexpected output %s", stdout.String())
	}
}

func TestTruncateCommand(t *testing.T) {
	if got := truncateCommand("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateCommand("a very long command line", 10); got != "a very ..." {
		t.Errorf("got %q", got)
	}
	// byte 9 falls inside the two-byte "ö"
	if got := truncateCommand("héllo wörld!", 12); got != "héllo w..." || !utf8.ValidString(got) {
		t.Errorf("got %q", got)
	}
}

func TestWriteScanExposition(t *testing.T) {
	rep := scanReport{Processes: []scanRow{
		{PID: 42, RssMB: 512, CPUPercent: 12.5, Class: "TARGET", OverLimit: true},
		{PID: 43, RssMB: 64, Class: "PROTECTED"},
	}}

	var out bytes.Buffer
	if err := writeScanExposition(&out, rep); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		`governor_scan_rss_mb{class="TARGET",pid="42"} 512`,
		`governor_scan_rss_mb{class="PROTECTED",pid="43"} 64`,
		`governor_scan_cpu_percent{class="TARGET",pid="42"} 12.5`,
		"governor_scan_over_limit 1",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("exposition missing %q:\n%s", want, out.String())
		}
	}
}
