package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"golang.org/x/term"
)

const (
	identityKeyFile = "identity.key"
	identityPubFile = "identity.pub"
)

var (
	// Global flags
	outputDir string
	force     bool
	asHex     bool
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate":
		generateCmd(args)
	case "show":
		showCmd(args)
	case "import":
		importCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("keygen - BlobDVM Key Management Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  keygen generate [flags]  - Generate new identity keypair")
	fmt.Println("  keygen show [flags]      - Display public key information")
	fmt.Println("  keygen import [flags]    - Import an existing nsec or hex key")
	fmt.Println()
	fmt.Println("Run 'keygen <command> -h' for command-specific help")
}

func defaultKeystorePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "blobdvm", "keys")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	fs.StringVar(&outputDir, "output-dir", defaultKeystorePath(), "Key storage directory")
	fs.BoolVar(&force, "force", false, "Overwrite existing keys")
	fs.Parse(args)

	sk := nostr.GeneratePrivateKey()
	saveIdentity(sk)
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	fs.StringVar(&outputDir, "output-dir", defaultKeystorePath(), "Key storage directory")
	fs.BoolVar(&force, "force", false, "Overwrite existing keys")
	fs.Parse(args)

	fmt.Fprint(os.Stderr, "Enter private key (nsec or hex): ")
	keyBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read key: %v\n", err)
		os.Exit(1)
	}

	input := strings.TrimSpace(string(keyBytes))
	sk := input
	if prefix, value, err := nip19.Decode(input); err == nil {
		if prefix != "nsec" {
			fmt.Fprintf(os.Stderr, "Expected nsec key, got %s\n", prefix)
			os.Exit(1)
		}
		sk = value.(string)
	}
	if !nostr.IsValid32ByteHex(sk) {
		fmt.Fprintln(os.Stderr, "Key is neither nsec nor 64-char hex")
		os.Exit(1)
	}
	saveIdentity(sk)
}

func saveIdentity(sk string) {
	if err := os.MkdirAll(outputDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	keyPath := filepath.Join(outputDir, identityKeyFile)
	pubPath := filepath.Join(outputDir, identityPubFile)

	if !force {
		if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
			fmt.Println("Identity keys already exist.")
			fmt.Print("Overwrite existing keys? [y/N]: ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Aborted.")
				return
			}
		}
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to derive public key: %v\n", err)
		os.Exit(1)
	}

	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode private key: %v\n", err)
		os.Exit(1)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode public key: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(keyPath, []byte(nsec+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save private key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(pubPath, []byte(npub+"\n"), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Identity keypair saved!")
	fmt.Println()
	fmt.Println("Public Key:")
	fmt.Printf("  %s\n", npub)
	fmt.Printf("  %s (hex)\n", pk)
	fmt.Println()
	fmt.Println("Keys stored in:")
	fmt.Printf("  %s\n", outputDir)
	fmt.Println()
	fmt.Println("WARNING: the private key is stored unencrypted; protect the directory")
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	fs.StringVar(&outputDir, "keys-dir", defaultKeystorePath(), "Key storage directory")
	fs.BoolVar(&asHex, "hex", false, "Also print the hex form")
	fs.Parse(args)

	pubPath := filepath.Join(outputDir, identityPubFile)

	pubData, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read public key: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'keygen generate' first to create keys")
		os.Exit(1)
	}

	npub := strings.TrimSpace(string(pubData))

	fmt.Println("Identity Public Key:")
	fmt.Printf("  %s\n", npub)

	if asHex {
		prefix, value, err := nip19.Decode(npub)
		if err != nil || prefix != "npub" {
			fmt.Fprintf(os.Stderr, "Failed to decode public key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  %s (hex)\n", value.(string))
	}

	fileInfo, _ := os.Stat(pubPath)
	fmt.Println()
	fmt.Println("Key Type: secp256k1 (nostr)")
	fmt.Printf("Created: %s\n", fileInfo.ModTime().Format(time.RFC3339))
}
