package idempotency

import (
	"errors"
	"regexp"
	"testing"
)

var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestGenerateKeyDeterministic(t *testing.T) {
	a := GenerateKey("user-1", []byte("prescription text"))
	b := GenerateKey("user-1", []byte("prescription text"))
	if a != b {
		t.Error("same user and content must yield the same key")
	}
	if !keyPattern.MatchString(a) {
		t.Errorf("key = %q, want 64-char hex digest", a)
	}
}

func TestGenerateKeyVariesByUserAndContent(t *testing.T) {
	base := GenerateKey("user-1", []byte("content"))
	if GenerateKey("user-2", []byte("content")) == base {
		t.Error("different users must yield different keys")
	}
	if GenerateKey("user-1", []byte("other content")) == base {
		t.Error("different content must yield different keys")
	}
}

func TestIsTerminalError(t *testing.T) {
	cases := []struct {
		err      error
		terminal bool
	}{
		{errors.New("entity extraction failed: empty text"), true},
		{errors.New("validation error: user_id missing"), true},
		{errors.New("invalid multipart form"), true},
		{errors.New("unauthorized"), true},
		{errors.New("connection refused"), false},
		{errors.New("context deadline exceeded"), false},
	}
	for _, tc := range cases {
		if got := isTerminalError(tc.err); got != tc.terminal {
			t.Errorf("isTerminalError(%q) = %v, want %v", tc.err, got, tc.terminal)
		}
	}
}
