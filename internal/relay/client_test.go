package relay

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/rs/zerolog"
)

func TestParseKey_Hex(t *testing.T) {
	sk := nostr.GeneratePrivateKey()

	got, err := ParseKey(sk)
	if err != nil {
		t.Fatalf("ParseKey(hex) failed: %v", err)
	}
	if got != sk {
		t.Errorf("Hex key should pass through unchanged")
	}
}

func TestParseKey_Nsec(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatalf("EncodePrivateKey failed: %v", err)
	}

	got, err := ParseKey(nsec)
	if err != nil {
		t.Fatalf("ParseKey(nsec) failed: %v", err)
	}
	if got != sk {
		t.Errorf("Expected %s, got %s", sk, got)
	}
}

func TestParseKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "nothex", "npub1invalid"} {
		if _, err := ParseKey(in); err == nil {
			t.Errorf("Expected error for %q", in)
		}
	}
}

func TestNewClient_Validation(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	log := zerolog.Nop()

	if _, err := NewClient(sk, nil, log); err == nil {
		t.Error("Expected error for empty relay list")
	}
	if _, err := NewClient(sk, []string{"http://not-a-relay"}, log); err == nil {
		t.Error("Expected error for non-websocket URL")
	}

	c, err := NewClient(sk, []string{"wss://relay.example"}, log)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	pk, _ := nostr.GetPublicKey(sk)
	if c.PublicKey() != pk {
		t.Errorf("Derived pubkey mismatch")
	}
}
