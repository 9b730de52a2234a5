package supervisor

import (
	"testing"
	"time"
	"unicode/utf8"
)

func TestLogThrottle(t *testing.T) {
	clock := t0
	th := newLogThrottle(time.Minute, func() time.Time { return clock })

	tests := []struct {
		name    string
		advance time.Duration
		key     string
		want    bool
	}{
		{"first line", 0, "a", true},
		{"repeat", time.Second, "a", false},
		{"other key", 0, "b", true},
		{"still limited", 30 * time.Second, "a", false},
		{"window passed", 30 * time.Second, "a", true},
	}

	for _, tt := range tests {
		clock = clock.Add(tt.advance)
		if got := th.Allow(tt.key); got != tt.want {
			t.Errorf("%s: Allow(%q) = %v, want %v", tt.name, tt.key, got, tt.want)
		}
	}

	th.Forget("a")
	if th.Len() != 1 {
		t.Errorf("Len() = %d after Forget, want 1", th.Len())
	}
	if !th.Allow("a") {
		t.Error("forgotten key should start fresh")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefgh", 4, "abcd..."},
		{"日本語テキスト", 4, "日..."},
		{"日本語テキスト", 6, "日本..."},
	}

	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
