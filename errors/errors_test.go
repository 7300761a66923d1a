package errors

import (
	"strings"
	"testing"
)

func TestNewCarriesLocation(t *testing.T) {
	err := New("order %s missing", "LC123456")
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Fatalf("expected caller location prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "order LC123456 missing") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWrapfKeepsSentinel(t *testing.T) {
	err := Wrapf(ErrAgentUnavailable, "bedrock invoke")
	if !Is(err, ErrAgentUnavailable) {
		t.Fatalf("expected wrapped error to match sentinel, got %v", err)
	}
	if !strings.Contains(err.Error(), "bedrock invoke: agent unavailable") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWrapfNil(t *testing.T) {
	if err := Wrapf(nil, "nothing"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
