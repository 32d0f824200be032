package schema

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		wantOK  bool
		wantStr string // RFC3339 rendering, when wantOK
	}{
		{"time.Time passthrough", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), true, "2026-01-02T03:04:05Z"},
		{"RFC3339 string", "2026-01-02T03:04:05Z", true, "2026-01-02T03:04:05Z"},
		{"date-only string", "2026-01-02", true, "2026-01-02T00:00:00Z"},
		{"empty string", "", false, ""},
		{"garbage string", "not a date", false, ""},
		{"unsupported type", 12345, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.UTC().Format(time.RFC3339) != tt.wantStr {
				t.Errorf("got %s, want %s", got.UTC().Format(time.RFC3339), tt.wantStr)
			}
		})
	}
}

func TestEffectiveTimestamp_PrefersNodeTS(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	other := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	n := &Node{TS: &ts}

	got := EffectiveTimestamp(n, &other)
	if got == nil || !got.Equal(ts) {
		t.Fatalf("expected node TS to win, got %v", got)
	}
}

func TestEffectiveTimestamp_FallsBackToTypeSpecific(t *testing.T) {
	other := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	n := &Node{}

	got := EffectiveTimestamp(n, nil, &other)
	if got == nil || !got.Equal(other) {
		t.Fatalf("expected type-specific fallback, got %v", got)
	}
}

func TestEffectiveTimestamp_FallsBackToExtra(t *testing.T) {
	n := &Node{Extra: map[string]any{"created_at": "2026-05-01T00:00:00Z"}}

	got := EffectiveTimestamp(n)
	if got == nil {
		t.Fatal("expected a timestamp parsed from Extra")
	}
	if got.Format(time.RFC3339) != "2026-05-01T00:00:00Z" {
		t.Errorf("got %s", got.Format(time.RFC3339))
	}
}

func TestEffectiveTimestamp_NoneAvailable(t *testing.T) {
	n := &Node{Extra: map[string]any{"unrelated": "value"}}
	if got := EffectiveTimestamp(n); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
