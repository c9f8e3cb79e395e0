package main

import (
	"flag"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestSplitRelays(t *testing.T) {
	urls := splitRelays(" wss://a.example, wss://b.example ,,")
	if len(urls) != 2 || urls[0] != "wss://a.example" || urls[1] != "wss://b.example" {
		t.Fatalf("Unexpected split: %v", urls)
	}
	if got := splitRelays(""); len(got) != 0 {
		t.Errorf("Empty input should yield no relays, got %v", got)
	}
}

func TestParseServerKey(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	npub, _ := nip19.EncodePublicKey(pk)

	if got := parseServerKey(npub); got != pk {
		t.Errorf("npub should decode to hex, got %q", got)
	}
	if got := parseServerKey(pk); got != pk {
		t.Errorf("Hex key should pass through, got %q", got)
	}
	// empty means the client engine discovers a server
	if got := parseServerKey(""); got != "" {
		t.Errorf("Empty input should pass through, got %q", got)
	}
}

func TestPositional(t *testing.T) {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	hash := fs.String("hash", "", "")
	fs.Parse([]string{"abc123"})

	if got := positional(fs, *hash); got != "abc123" {
		t.Errorf("Expected bare argument, got %q", got)
	}

	fs2 := flag.NewFlagSet("download", flag.ContinueOnError)
	hash2 := fs2.String("hash", "", "")
	fs2.Parse([]string{"-hash", "flagged", "ignored"})

	if got := positional(fs2, *hash2); got != "flagged" {
		t.Errorf("Flag value must win over bare argument, got %q", got)
	}

	fs3 := flag.NewFlagSet("download", flag.ContinueOnError)
	hash3 := fs3.String("hash", "", "")
	fs3.Parse(nil)

	if got := positional(fs3, *hash3); got != "" {
		t.Errorf("Expected empty result, got %q", got)
	}
}
