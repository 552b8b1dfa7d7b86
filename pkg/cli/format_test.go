package cli

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestFormatScore(t *testing.T) {
	v := 0.812345
	if got := FormatScore(&v); got != "0.8123" {
		t.Errorf("FormatScore = %q, want 0.8123", got)
	}
	if got := FormatScore(nil); got != "-" {
		t.Errorf("FormatScore(nil) = %q, want -", got)
	}
}

func TestFormatAge(t *testing.T) {
	age := 20
	if got := FormatAge(&age); got != "20" {
		t.Errorf("FormatAge = %q, want 20", got)
	}
	if got := FormatAge(nil); got != "unknown" {
		t.Errorf("FormatAge(nil) = %q, want unknown", got)
	}
}
