package domain

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "timeout", max: 16, want: "timeout"},
		{name: "ascii cut", in: "connection refused", max: 10, want: "connection"},
		{name: "cut inside rune", in: "ab€", max: 4, want: "ab"},
		{name: "cut on boundary", in: "ab€c", max: 5, want: "ab€"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateUTF8(tt.in, tt.max); got != tt.want {
				t.Fatalf("TruncateUTF8(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestNewRunHistoryTruncatesMultiByteReason(t *testing.T) {
	reason := "x" + strings.Repeat("é", 400)
	outcome := AccountOutcome{
		AccountIndex:  2,
		Stage:         StageReporting,
		FailureReason: errors.New(reason),
	}

	record := NewRunHistory(outcome, Credential("token"))

	if len(record.FailureReason) > maxFailureReasonBytes {
		t.Fatalf("FailureReason is %d bytes, want at most %d", len(record.FailureReason), maxFailureReasonBytes)
	}
	if !utf8.ValidString(record.FailureReason) {
		t.Fatalf("FailureReason is not valid UTF-8: %q", record.FailureReason)
	}
	if !strings.HasPrefix(reason, record.FailureReason) || len(record.FailureReason) != 511 {
		t.Fatalf("FailureReason = %d bytes, want the 511-byte rune-aligned prefix", len(record.FailureReason))
	}
}
