package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, err := ParseTime(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	for _, in := range []string{strconv.FormatInt(ts.Unix(), 10), strconv.FormatInt(ts.UnixMilli(), 10)} {
		got, err := ParseTime(in)
		if err != nil {
			t.Fatalf("parse %s: %v", in, err)
		}
		if !got.Equal(ts) {
			t.Fatalf("parse %s: got %v", in, got)
		}
	}
}

func TestParseTimeDate(t *testing.T) {
	got, err := ParseTime("2024-01-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
	if got := ParseTimeDefault("yesterday", def); !got.Equal(def) {
		t.Fatalf("expected default for garbage")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" BTCUSDT, ,ETHUSDT ,")
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("unexpected list %v", got)
	}
	if SplitList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
