// Package client implements the requester side: discover storage
// servers, upload files, collect chunk broadcasts, and verify
// reassembled content against its address.
package client

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blobdvm/blobdvm/internal/chunker"
	"github.com/blobdvm/blobdvm/internal/observability"
	"github.com/blobdvm/blobdvm/internal/protocol"
	"github.com/blobdvm/blobdvm/internal/validation"
)

// Relay is the slice of the relay client the engine consumes.
type Relay interface {
	PublicKey() string
	Sign(ev *nostr.Event) error
	Publish(ctx context.Context, ev *nostr.Event) error
	Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error)
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// Config holds client engine configuration.
type Config struct {
	ResponseTimeout time.Duration // wait for 24211/21999 after a request
	ChunkTimeout    time.Duration // wait for remaining chunks after the response
	DiscoveryLimit  int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		ResponseTimeout: 30 * time.Second,
		ChunkTimeout:    60 * time.Second,
		DiscoveryLimit:  50,
	}
}

// Engine drives request round trips against storage servers.
type Engine struct {
	cfg   *Config
	relay Relay
	log   *observability.Logger
}

// New wires a client engine.
func New(cfg *Config, r Relay, log *observability.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 60 * time.Second
	}
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = 50
	}
	return &Engine{cfg: cfg, relay: r, log: log}
}

// DiscoverServers queries for service announcements and returns one
// descriptor per server identity, keeping the newest announcement when
// a server re-published. Results are ordered newest first.
func (e *Engine) DiscoverServers(ctx context.Context) ([]protocol.ServerDescriptor, error) {
	events, err := e.relay.Query(ctx, nostr.Filter{
		Kinds: []int{protocol.KindAnnouncement},
		Tags:  nostr.TagMap{"k": []string{strconv.Itoa(protocol.KindRequest)}},
		Limit: e.cfg.DiscoveryLimit,
	})
	if err != nil {
		return nil, err
	}

	newest := make(map[string]protocol.ServerDescriptor)
	for _, ev := range events {
		desc, err := protocol.ParseAnnouncement(ev)
		if err != nil {
			zl := e.log.Zerolog()
			zl.Debug().Str("event", ev.ID).Msg("skipping malformed announcement")
			continue
		}
		key := desc.PubKey + "/" + desc.Identifier
		if prev, ok := newest[key]; ok && prev.CreatedAt >= desc.CreatedAt {
			continue
		}
		newest[key] = desc
	}

	servers := make([]protocol.ServerDescriptor, 0, len(newest))
	for _, desc := range newest {
		servers = append(servers, desc)
	}
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].CreatedAt != servers[j].CreatedAt {
			return servers[i].CreatedAt > servers[j].CreatedAt
		}
		return servers[i].PubKey < servers[j].PubKey
	})
	return servers, nil
}

// resolveServer returns the caller-supplied server pubkey, or discovers
// one when none was given. The most recently announced server wins.
func (e *Engine) resolveServer(ctx context.Context, serverPubKey string) (string, error) {
	if serverPubKey != "" {
		return serverPubKey, nil
	}
	servers, err := e.DiscoverServers(ctx)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", protocol.Errf(protocol.CodeInternalError, "no storage servers announced")
	}
	e.log.Info("using discovered server " + servers[0].PubKey)
	return servers[0].PubKey, nil
}

// Upload stores data on the given server and returns the server's
// response, which carries the content address.
func (e *Engine) Upload(ctx context.Context, data []byte, filename, serverPubKey string) (protocol.Response, error) {
	if len(data) == 0 {
		return protocol.Response{}, protocol.Errf(protocol.CodeMalformedRequest, "refusing to upload empty file")
	}
	if int64(len(data)) > chunker.MaxFileSize {
		return protocol.Response{}, protocol.Errf(protocol.CodeFileTooLarge,
			"file %d bytes exceeds limit %d", len(data), chunker.MaxFileSize)
	}

	tr := otel.Tracer("blobdvm-client")
	ctx, span := tr.Start(ctx, "client.upload")
	span.SetAttributes(attribute.Int("size", len(data)))
	defer span.End()

	target, err := e.resolveServer(ctx, serverPubKey)
	if err != nil {
		return protocol.Response{}, err
	}

	start := time.Now()
	resp, err := e.roundTrip(ctx, protocol.BuildStoreRequest(data, filename, target, nil))
	if err != nil {
		return protocol.Response{}, err
	}
	e.log.TransferCompleted("upload", resp.Hash, resp.Size, resp.Chunks, time.Since(start))
	return resp, nil
}

// Delete asks the server to drop a stored file.
func (e *Engine) Delete(ctx context.Context, hash, serverPubKey string) (protocol.Response, error) {
	if err := validation.ValidateFileHash(hash); err != nil {
		return protocol.Response{}, protocol.Errf(protocol.CodeInvalidHash, "%v", err)
	}
	target, err := e.resolveServer(ctx, serverPubKey)
	if err != nil {
		return protocol.Response{}, err
	}
	return e.roundTrip(ctx, protocol.BuildHashRequest(protocol.ActionDelete, hash, target, nil))
}

// roundTrip signs a request, opens the correlated subscription before
// publishing, and waits for the terminal event.
func (e *Engine) roundTrip(ctx context.Context, req *nostr.Event) (protocol.Response, error) {
	if err := e.relay.Sign(req); err != nil {
		return protocol.Response{}, protocol.Errf(protocol.CodeInternalError, "sign request: %v", err)
	}

	since := nostr.Now() - 1
	events, release, err := e.relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{protocol.KindResponse, protocol.KindStatus},
		Tags:  nostr.TagMap{"e": []string{req.ID}},
		Since: &since,
	}})
	if err != nil {
		return protocol.Response{}, err
	}
	defer release()

	if err := e.relay.Publish(ctx, req); err != nil {
		return protocol.Response{}, err
	}

	return e.awaitResponse(ctx, events, req.ID)
}

// awaitResponse consumes the correlated stream until a response or an
// error status arrives. Processing statuses are informational.
func (e *Engine) awaitResponse(ctx context.Context, events <-chan *nostr.Event, requestID string) (protocol.Response, error) {
	timer := time.NewTimer(e.cfg.ResponseTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return protocol.Response{}, ctx.Err()
		case <-timer.C:
			return protocol.Response{}, protocol.Errf(protocol.CodeResponseTimeout,
				"no response for request %s within %s", requestID, e.cfg.ResponseTimeout)
		case ev, ok := <-events:
			if !ok {
				return protocol.Response{}, protocol.Errf(protocol.CodeInternalError, "subscription closed")
			}
			resp, done, err := e.classify(ev, requestID)
			if err != nil {
				return protocol.Response{}, err
			}
			if done {
				return resp, nil
			}
		}
	}
}

// classify maps one correlated event to an outcome: (resp, true, nil)
// for the response, an error for a terminal status, (zero, false, nil)
// for anything to keep waiting past.
func (e *Engine) classify(ev *nostr.Event, requestID string) (protocol.Response, bool, error) {
	switch ev.Kind {
	case protocol.KindResponse:
		resp, reqID, err := protocol.ParseResponse(ev)
		if err != nil || reqID != requestID {
			return protocol.Response{}, false, nil
		}
		return resp, true, nil
	case protocol.KindStatus:
		st, err := protocol.ParseStatus(ev)
		if err != nil || st.RequestID != requestID {
			return protocol.Response{}, false, nil
		}
		if st.Code != "" {
			return protocol.Response{}, false, protocol.Errf(st.Code, "%s", st.Message)
		}
		e.log.WithRequest(requestID).Debug("status: " + st.Keyword)
	}
	return protocol.Response{}, false, nil
}

// Download retrieves a file by content address: it subscribes to the
// chunk stream before publishing the request, collects and verifies
// chunks as they arrive, and reassembles once the response's chunk
// count is satisfied.
func (e *Engine) Download(ctx context.Context, hash, serverPubKey string) ([]byte, error) {
	if err := validation.ValidateFileHash(hash); err != nil {
		return nil, protocol.Errf(protocol.CodeInvalidHash, "%v", err)
	}

	tr := otel.Tracer("blobdvm-client")
	ctx, span := tr.Start(ctx, "client.download")
	span.SetAttributes(attribute.String("file_hash", hash))
	defer span.End()

	target, err := e.resolveServer(ctx, serverPubKey)
	if err != nil {
		return nil, err
	}

	req := protocol.BuildHashRequest(protocol.ActionRetrieve, hash, target, nil)
	if err := e.relay.Sign(req); err != nil {
		return nil, protocol.Errf(protocol.CodeInternalError, "sign request: %v", err)
	}

	// Backdated a second so events racing the subscription are caught,
	// without replaying stale chunks from an earlier retrieve.
	since := nostr.Now() - 1
	events, release, err := e.relay.Subscribe(ctx, nostr.Filters{
		{
			Kinds: []int{protocol.KindResponse, protocol.KindStatus},
			Tags:  nostr.TagMap{"e": []string{req.ID}},
			Since: &since,
		},
		{
			Kinds: []int{protocol.KindChunk},
			Tags:  nostr.TagMap{"file_hash": []string{hash}},
			Since: &since,
		},
	})
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.relay.Publish(ctx, req); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := e.collect(ctx, events, req.ID, hash)
	if err != nil {
		return nil, err
	}
	chunks := (len(data) + chunker.ChunkSize - 1) / chunker.ChunkSize
	e.log.TransferCompleted("download", hash, int64(len(data)), chunks, time.Since(start))
	return data, nil
}

// collect runs the download state machine over the merged stream.
// Chunks may arrive before the response; completeness is only decidable
// once the response's chunk count is known.
func (e *Engine) collect(ctx context.Context, events <-chan *nostr.Event, requestID, fileHash string) ([]byte, error) {
	respTimer := time.NewTimer(e.cfg.ResponseTimeout)
	defer respTimer.Stop()

	chunkTimer := time.NewTimer(time.Hour)
	chunkTimer.Stop()
	defer chunkTimer.Stop()

	collected := make(map[int]chunker.Chunk)
	total := -1
	var resp *protocol.Response

	for {
		if resp != nil && len(collected) >= resp.Chunks {
			return e.assemble(collected, resp.Chunks, fileHash)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-respTimer.C:
			if resp == nil {
				return nil, protocol.Errf(protocol.CodeResponseTimeout,
					"no response for request %s within %s", requestID, e.cfg.ResponseTimeout)
			}
		case <-chunkTimer.C:
			return nil, protocol.Errf(protocol.CodeChunkMissing,
				"collected %d of %d chunks within %s", len(collected), resp.Chunks, e.cfg.ChunkTimeout)
		case ev, ok := <-events:
			if !ok {
				return nil, protocol.Errf(protocol.CodeInternalError, "subscription closed")
			}

			if ev.Kind == protocol.KindChunk {
				if err := e.acceptChunk(ev, fileHash, collected, &total); err != nil {
					return nil, err
				}
				continue
			}

			r, done, err := e.classify(ev, requestID)
			if err != nil {
				return nil, err
			}
			if done {
				if r.Chunks <= 0 {
					return nil, protocol.Errf(protocol.CodeIntegrityFailed,
						"response advertises %d chunks", r.Chunks)
				}
				if total != -1 && total != r.Chunks {
					return nil, protocol.Errf(protocol.CodeIntegrityFailed,
						"chunk events declare %d chunks, response says %d", total, r.Chunks)
				}
				resp = &r
				respTimer.Stop()
				chunkTimer.Reset(e.cfg.ChunkTimeout)
			}
		}
	}
}

// acceptChunk verifies one chunk event and folds it into the collection.
// Corrupt or duplicate chunks are discarded; a chunk_total that
// contradicts earlier chunks fails the transfer.
func (e *Engine) acceptChunk(ev *nostr.Event, fileHash string, collected map[int]chunker.Chunk, total *int) error {
	env, err := protocol.ParseChunkEvent(ev)
	if err != nil {
		e.log.ChunkDiscarded(fileHash, -1, "unparseable chunk event")
		return nil
	}
	if env.FileHash != fileHash {
		return nil
	}
	if chunker.HashBytes(env.Chunk.Data) != env.Chunk.Hash {
		e.log.ChunkDiscarded(fileHash, env.Chunk.Index, "chunk hash mismatch")
		return nil
	}
	if *total == -1 {
		*total = env.Total
	} else if env.Total != *total {
		return protocol.Errf(protocol.CodeIntegrityFailed,
			"chunk %d declares total %d, earlier chunks declared %d", env.Chunk.Index, env.Total, *total)
	}
	if _, dup := collected[env.Chunk.Index]; dup {
		e.log.ChunkDiscarded(fileHash, env.Chunk.Index, "duplicate chunk")
		return nil
	}

	collected[env.Chunk.Index] = env.Chunk
	e.log.ChunkCollected(fileHash, env.Chunk.Index, *total, env.Chunk.Size())
	return nil
}

// assemble orders the collected chunks and verifies the reassembled
// bytes against the content address.
func (e *Engine) assemble(collected map[int]chunker.Chunk, want int, fileHash string) ([]byte, error) {
	chunks := make([]chunker.Chunk, 0, len(collected))
	for idx, c := range collected {
		if idx >= want {
			return nil, protocol.Errf(protocol.CodeIntegrityFailed,
				"chunk index %d outside expected range %d", idx, want)
		}
		chunks = append(chunks, c)
	}
	if len(chunks) != want {
		return nil, protocol.Errf(protocol.CodeChunkMissing,
			"collected %d of %d chunks", len(chunks), want)
	}

	data, err := chunker.VerifyAndAssemble(chunks, fileHash)
	if err != nil {
		return nil, protocol.Errf(protocol.CodeIntegrityFailed, "%v", err)
	}
	return data, nil
}
