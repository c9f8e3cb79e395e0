package validation

import (
	"strings"
	"testing"
)

func TestValidateFileHash(t *testing.T) {
	good := strings.Repeat("ab", 32)
	if err := ValidateFileHash(good); err != nil {
		t.Errorf("Expected valid hash, got %v", err)
	}

	bad := []string{
		"",
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
		strings.Repeat("A", 64), // uppercase rejected
		strings.Repeat("g", 64), // not hex
	}
	for _, h := range bad {
		if err := ValidateFileHash(h); err == nil {
			t.Errorf("Expected error for hash %q", h)
		}
	}
}

func TestValidateRelayURL(t *testing.T) {
	for _, u := range []string{"wss://relay.damus.io", "ws://localhost:7777"} {
		if err := ValidateRelayURL(u); err != nil {
			t.Errorf("Expected valid URL %q, got %v", u, err)
		}
	}
	for _, u := range []string{"", "http://relay.damus.io", "wss://"} {
		if err := ValidateRelayURL(u); err == nil {
			t.Errorf("Expected error for URL %q", u)
		}
	}
}

func TestValidateRangeInt(t *testing.T) {
	if err := ValidateRangeInt(5, 1, 10); err != nil {
		t.Errorf("Expected 5 in [1,10], got %v", err)
	}
	if err := ValidateRangeInt(11, 1, 10); err == nil {
		t.Error("Expected error for 11 in [1,10]")
	}
}
