package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"golang.org/x/term"

	"github.com/blobdvm/blobdvm/internal/client"
	"github.com/blobdvm/blobdvm/internal/observability"
	"github.com/blobdvm/blobdvm/internal/protocol"
	"github.com/blobdvm/blobdvm/internal/relay"
	"github.com/blobdvm/blobdvm/internal/server"
	"github.com/blobdvm/blobdvm/internal/validation"
)

const version = "1.0.0"

var defaultRelays = "wss://relay.damus.io,wss://nos.lol"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "serve":
		serveCmd(args)
	case "list-servers":
		listServersCmd(args)
	case "upload":
		uploadCmd(args)
	case "download":
		downloadCmd(args)
	case "delete":
		deleteCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("blobdvm - content-addressed file storage over nostr")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  blobdvm serve [flags]            - Run a storage server")
	fmt.Println("  blobdvm list-servers [flags]     - Discover storage servers")
	fmt.Println("  blobdvm upload [flags] <path>    - Store a file")
	fmt.Println("  blobdvm download [flags] <hash>  - Retrieve a file by hash")
	fmt.Println("  blobdvm delete [flags] <hash>    - Delete a stored file")
	fmt.Println()
	fmt.Println("Run 'blobdvm <command> -h' for command-specific help")
}

func splitRelays(s string) []string {
	var urls []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// loadKey resolves the signing key: flag value, then BLOBDVM_PRIVATE_KEY env,
// then an interactive prompt, then a fresh ephemeral key.
func loadKey(flagValue string, allowEphemeral bool) string {
	input := flagValue
	if input == "" {
		input = os.Getenv("BLOBDVM_PRIVATE_KEY")
	}
	if input == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Enter private key (nsec or hex, empty for ephemeral): ")
		keyBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read key: %v\n", err)
			os.Exit(1)
		}
		input = strings.TrimSpace(string(keyBytes))
	}
	if input == "" {
		if !allowEphemeral {
			fmt.Fprintln(os.Stderr, "A private key is required (-private-key flag or BLOBDVM_PRIVATE_KEY)")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "No key provided, using an ephemeral identity")
		return relay.GeneratePrivateKey()
	}

	sk, err := relay.ParseKey(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}
	return sk
}

// parseServerKey accepts a server public key as npub or 64-char hex.
// Empty input passes through; the client engine then discovers a server.
func parseServerKey(input string) string {
	if input == "" {
		return ""
	}
	if prefix, value, err := nip19.Decode(input); err == nil {
		if prefix != "npub" {
			fmt.Fprintf(os.Stderr, "Expected npub key, got %s\n", prefix)
			os.Exit(1)
		}
		return value.(string)
	}
	return input
}

// positional lets the primary argument ride either its flag or the
// first bare argument after the flags.
func positional(fs *flag.FlagSet, current string) string {
	if current == "" && fs.NArg() > 0 {
		return fs.Arg(0)
	}
	return current
}

func connect(urls []string, sk string, log *observability.Logger) *relay.Client {
	rc, err := relay.NewClient(sk, urls, log.Zerolog())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rc.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not connect to any relay\n")
		os.Exit(2)
	}
	return rc
}

// fail prints a protocol failure with its error code and exits.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", protocol.CodeOf(err), err)
	os.Exit(3)
}

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	relays := fs.String("relays", defaultRelays, "Comma-separated relay URLs")
	key := fs.String("private-key", "", "Private key (nsec or hex); falls back to BLOBDVM_PRIVATE_KEY")
	name := fs.String("name", "BlobDVM Storage", "Advertised server name")
	about := fs.String("about", "Content-addressed file storage over nostr", "Advertised description")
	retention := fs.Duration("retention", protocol.DefaultRetention, "File retention period")
	maxStorage := fs.Int64("max-storage", 0, "Storage capacity in bytes (0 = unbounded)")
	workers := fs.Int("workers", 1, "Request worker count")
	queueSize := fs.Int("queue", 256, "Request queue depth")
	chunkRate := fs.Float64("chunk-rate", 50, "Chunk publishes per second")
	metricsAddr := fs.String("metrics-addr", ":8081", "Observability listen address (metrics, health, pprof)")
	fs.Parse(args)

	logger := observability.NewLogger("blobdvm-server", version, os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(version)

	if shutdown, err := observability.InitTracing(context.Background(), "blobdvm-server"); err == nil {
		defer shutdown(context.Background())
	}

	urls := splitRelays(*relays)
	sk := loadKey(*key, false)
	rc := connect(urls, sk, logger)
	defer rc.Close()

	cfg := server.DefaultConfig()
	cfg.Name = *name
	cfg.About = *about
	cfg.Retention = *retention
	cfg.MaxStorageBytes = *maxStorage
	cfg.Workers = *workers
	cfg.QueueSize = *queueSize
	cfg.ChunkRate = *chunkRate

	engine := server.New(cfg, rc, logger, metrics)

	healthChecker.RegisterCheck("relay_pool", observability.RelayPoolCheck(rc.ConnectedCount, len(urls)))
	healthChecker.RegisterCheck("content_store", observability.ContentStoreCheck(engine.Store().Count, engine.Store().LiveBytes))
	healthChecker.RegisterCheck("signing_key", observability.KeyCheck(rc.PublicKey()))

	go startObservabilityServer(*metricsAddr, metrics, healthChecker, logger)

	npub, _ := nip19.EncodePublicKey(rc.PublicKey())
	logger.Info("server identity " + npub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal(err, "server engine failed")
	}
	logger.Info("server stopped")
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("Observability server listening on " + addr + " (metrics, health, pprof)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "Observability server error")
	}
}

func listServersCmd(args []string) {
	fs := flag.NewFlagSet("list-servers", flag.ExitOnError)
	relays := fs.String("relays", defaultRelays, "Comma-separated relay URLs")
	fs.Parse(args)

	logger := observability.NewLogger("blobdvm-client", version, os.Stderr)
	rc := connect(splitRelays(*relays), relay.GeneratePrivateKey(), logger)
	defer rc.Close()

	engine := client.New(nil, rc, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	servers, err := engine.DiscoverServers(ctx)
	if err != nil {
		fail(err)
	}
	if len(servers) == 0 {
		fmt.Println("No storage servers found")
		return
	}

	for _, s := range servers {
		npub, _ := nip19.EncodePublicKey(s.PubKey)
		fmt.Printf("%s\n", npub)
		fmt.Printf("  name: %s\n", s.Name)
		if s.About != "" {
			fmt.Printf("  about: %s\n", s.About)
		}
		fmt.Printf("  max file size: %d bytes, chunk size: %d, retention: %dh\n",
			s.MaxFileSize, s.ChunkSize, s.RetentionHours)
		fmt.Printf("  announced: %s\n", s.CreatedAt.Time().Format(time.RFC3339))
	}
}

func uploadCmd(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	relays := fs.String("relays", defaultRelays, "Comma-separated relay URLs")
	key := fs.String("private-key", "", "Private key (nsec or hex); falls back to BLOBDVM_PRIVATE_KEY")
	serverKey := fs.String("server", "", "Server public key (npub or hex); discovered when omitted")
	file := fs.String("file", "", "File to upload")
	timeout := fs.Duration("timeout", 30*time.Second, "Response timeout")
	fs.Parse(args)

	path := positional(fs, *file)
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: blobdvm upload [flags] <path>")
		os.Exit(1)
	}
	if err := validation.ValidateFilePath(path, true); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("blobdvm-client", version, os.Stderr)
	rc := connect(splitRelays(*relays), loadKey(*key, true), logger)
	defer rc.Close()

	cfg := client.DefaultConfig()
	cfg.ResponseTimeout = *timeout
	engine := client.New(cfg, rc, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+30*time.Second)
	defer cancel()

	resp, err := engine.Upload(ctx, data, filepath.Base(path), parseServerKey(*serverKey))
	if err != nil {
		fail(err)
	}

	fmt.Printf("Stored %d bytes in %d chunks\n", resp.Size, resp.Chunks)
	fmt.Printf("Hash: %s\n", resp.Hash)
	fmt.Printf("Expires: %s\n", time.Unix(resp.Expires, 0).Format(time.RFC3339))
}

func downloadCmd(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	relays := fs.String("relays", defaultRelays, "Comma-separated relay URLs")
	key := fs.String("private-key", "", "Private key (nsec or hex); falls back to BLOBDVM_PRIVATE_KEY")
	serverKey := fs.String("server", "", "Server public key (npub or hex); discovered when omitted")
	hash := fs.String("hash", "", "Content hash to retrieve")
	output := fs.String("output", "", "Output path (default: the hash)")
	timeout := fs.Duration("timeout", 60*time.Second, "Chunk collection timeout")
	fs.Parse(args)

	target := positional(fs, *hash)
	if target == "" {
		fmt.Fprintln(os.Stderr, "Usage: blobdvm download [flags] <hash>")
		os.Exit(1)
	}

	logger := observability.NewLogger("blobdvm-client", version, os.Stderr)
	rc := connect(splitRelays(*relays), loadKey(*key, true), logger)
	defer rc.Close()

	cfg := client.DefaultConfig()
	cfg.ChunkTimeout = *timeout
	engine := client.New(cfg, rc, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ResponseTimeout+*timeout+15*time.Second)
	defer cancel()

	data, err := engine.Download(ctx, target, parseServerKey(*serverKey))
	if err != nil {
		fail(err)
	}

	path := *output
	if path == "" {
		path = target
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), path)
}

func deleteCmd(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	relays := fs.String("relays", defaultRelays, "Comma-separated relay URLs")
	key := fs.String("private-key", "", "Private key (nsec or hex); falls back to BLOBDVM_PRIVATE_KEY")
	serverKey := fs.String("server", "", "Server public key (npub or hex); discovered when omitted")
	hash := fs.String("hash", "", "Content hash to delete")
	timeout := fs.Duration("timeout", 30*time.Second, "Response timeout")
	fs.Parse(args)

	target := positional(fs, *hash)
	if target == "" {
		fmt.Fprintln(os.Stderr, "Usage: blobdvm delete [flags] <hash>")
		os.Exit(1)
	}

	logger := observability.NewLogger("blobdvm-client", version, os.Stderr)
	rc := connect(splitRelays(*relays), loadKey(*key, true), logger)
	defer rc.Close()

	cfg := client.DefaultConfig()
	cfg.ResponseTimeout = *timeout
	engine := client.New(cfg, rc, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+15*time.Second)
	defer cancel()

	resp, err := engine.Delete(ctx, target, parseServerKey(*serverKey))
	if err != nil {
		fail(err)
	}
	fmt.Printf("Deleted %s\n", resp.Hash)
}
