package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesVenueAndCode(t *testing.T) {
	err := New(
		"bybit",
		CodeInvalid,
		WithHTTP(400),
		WithMessage("order rejected"),
		WithRawCode("110007"),
		WithRawMessage("ab not enough for new order"),
		WithCause(errors.New("http 400")),
	)

	out := err.Error()
	if !strings.Contains(out, "venue=bybit") {
		t.Fatalf("expected venue marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=invalid_request") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "http=400") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	if !strings.Contains(out, `raw_code="110007"`) {
		t.Fatalf("expected raw code in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("bybit", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestCodeOfThroughWrapping(t *testing.T) {
	inner := New("bybit", CodeRateLimited, WithMessage("quota exhausted"))
	wrapped := fmt.Errorf("place order: %w", inner)
	if got := CodeOf(wrapped); got != CodeRateLimited {
		t.Fatalf("CodeOf = %q, want %q", got, CodeRateLimited)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		code Code
		want bool
	}{
		{CodeRateLimited, true},
		{CodeNetwork, true},
		{CodeVenue, true},
		{CodeInvalid, false},
		{CodeUnavailable, false},
		{CodeNotFound, false},
	}
	for _, tc := range cases {
		err := New("bybit", tc.code)
		if got := Retryable(err); got != tc.want {
			t.Fatalf("Retryable(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
