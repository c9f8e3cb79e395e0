package validation

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
)

var (
	ErrInvalidPath     = errors.New("invalid file path")
	ErrPathNotExists   = errors.New("path does not exist")
	ErrInvalidHash     = errors.New("invalid SHA256 hash format")
	ErrInvalidRelayURL = errors.New("invalid relay URL")
	ErrEmptyString     = errors.New("value must not be empty")
	ErrOutOfRange      = errors.New("value out of range")
)

// Content addresses are 64 lowercase hex characters.
var hashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

func ValidateFileHash(h string) error {
	if !hashPattern.MatchString(h) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, h)
	}
	return nil
}

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" { return ErrInvalidPath }
	if !filepath.IsAbs(p) {
		p = filepath.Clean(p)
	}
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateRelayURL accepts ws:// and wss:// URLs with a host.
func ValidateRelayURL(raw string) error {
	if raw == "" { return ErrInvalidRelayURL }
	u, err := url.Parse(raw)
	if err != nil { return fmt.Errorf("%w: %v", ErrInvalidRelayURL, err) }
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidRelayURL, u.Scheme)
	}
	if u.Host == "" { return fmt.Errorf("%w: missing host", ErrInvalidRelayURL) }
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" { return ErrEmptyString }
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}
