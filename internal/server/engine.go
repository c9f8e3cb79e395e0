// Package server implements the storage provider: it advertises the
// service on the relay network, accepts signed requests, executes
// them, broadcasts chunk events, and manages retention.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blobdvm/blobdvm/internal/chunker"
	"github.com/blobdvm/blobdvm/internal/observability"
	"github.com/blobdvm/blobdvm/internal/protocol"
	"github.com/blobdvm/blobdvm/internal/ratelimit"
	"github.com/blobdvm/blobdvm/internal/store"
)

// Relay is the slice of the relay client the engine consumes.
type Relay interface {
	PublicKey() string
	Publish(ctx context.Context, ev *nostr.Event) error
	Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error)
}

// Config holds server engine configuration.
type Config struct {
	Name            string
	About           string
	Retention       time.Duration
	SweepInterval   time.Duration
	MaxStorageBytes int64 // 0 means unbounded
	QueueSize       int
	Workers         int
	ChunkRate       float64 // chunk publishes per second
	ChunkBurst      int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:          "BlobDVM Storage",
		About:         "Content-addressed file storage over nostr",
		Retention:     protocol.DefaultRetention,
		SweepInterval: store.DefaultSweepInterval,
		QueueSize:     256,
		Workers:       1,
		ChunkRate:     50,
		ChunkBurst:    100,
	}
}

// Engine is the server-side request pipeline.
type Engine struct {
	cfg     *Config
	relay   Relay
	store   *store.ContentStore
	log     *observability.Logger
	metrics *observability.Metrics
	limiter *ratelimit.TokenBucket

	jobs    chan *nostr.Event
	handled sync.Map // request event id -> struct{}
}

// New wires an engine. metrics may be nil for tests.
func New(cfg *Config, r Relay, log *observability.Logger, metrics *observability.Metrics) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retention <= 0 {
		cfg.Retention = protocol.DefaultRetention
	}

	return &Engine{
		cfg:     cfg,
		relay:   r,
		store:   store.New(),
		log:     log,
		metrics: metrics,
		limiter: ratelimit.NewTokenBucket(cfg.ChunkRate, cfg.ChunkBurst),
		jobs:    make(chan *nostr.Event, cfg.QueueSize),
	}
}

// Store exposes the content store for health checks.
func (e *Engine) Store() *store.ContentStore { return e.store }

// Run publishes the announcement, subscribes to requests, and serves
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.publishAnnouncement(ctx); err != nil {
		return err
	}

	since := nostr.Now()
	events, release, err := e.relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{protocol.KindRequest},
		Since: &since,
	}})
	if err != nil {
		return err
	}
	defer release()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.store.Run(ctx, e.cfg.SweepInterval, func(removed int) {
			if removed > 0 {
				e.log.SweepCompleted(removed, e.store.Count())
				if e.metrics != nil {
					e.metrics.ExpiredSweptTotal.Add(float64(removed))
				}
			}
			e.recordStoreState()
		})
	}()

	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx)
		}()
	}

	e.intake(ctx, events)
	close(e.jobs)
	wg.Wait()
	return ctx.Err()
}

// intake filters the notification stream and feeds the job queue,
// shedding load when the queue is full.
func (e *Engine) intake(ctx context.Context, events <-chan *nostr.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev == nil || ev.Kind != protocol.KindRequest {
				continue
			}
			if !protocol.AddressedTo(ev, e.relay.PublicKey()) {
				continue
			}

			select {
			case e.jobs <- ev:
				if e.metrics != nil {
					e.metrics.JobQueueDepth.Set(float64(len(e.jobs)))
				}
			default:
				if e.metrics != nil {
					e.metrics.RequestsDropped.Inc()
				}
				e.log.WithRequest(ev.ID).Warn("job queue full, shedding request")
				e.emitError(ctx, ev, protocol.Errf(protocol.CodeInternalError, "server overloaded"))
			}
		}
	}
}

// work drains the job queue.
func (e *Engine) work(ctx context.Context) {
	for ev := range e.jobs {
		if e.metrics != nil {
			e.metrics.JobQueueDepth.Set(float64(len(e.jobs)))
		}
		e.HandleRequest(ctx, ev)
	}
}

// HandleRequest runs one request to a terminal state: exactly one of a
// response (24211) or an error status (21999) is emitted.
func (e *Engine) HandleRequest(ctx context.Context, ev *nostr.Event) {
	if _, dup := e.handled.LoadOrStore(ev.ID, struct{}{}); dup {
		e.log.WithRequest(ev.ID).Debug("duplicate request dropped")
		return
	}

	tr := otel.Tracer("blobdvm-server")
	ctx, span := tr.Start(ctx, "server.handleRequest")
	span.SetAttributes(attribute.String("request_id", ev.ID))
	defer span.End()

	start := time.Now()

	e.emitStatus(ctx, ev, protocol.StatusProcessing, "processing request")

	req, err := protocol.ParseRequest(ev)
	if err != nil {
		e.finish(ctx, ev, "", start, err)
		return
	}

	e.log.RequestReceived(ev.ID, ev.PubKey, req.Action)
	span.SetAttributes(attribute.String("action", req.Action))

	var resp protocol.Response
	switch req.Action {
	case protocol.ActionStore:
		resp, err = e.handleStore(ctx, req)
	case protocol.ActionRetrieve:
		resp, err = e.handleRetrieve(ctx, req)
	case protocol.ActionDelete:
		resp, err = e.handleDelete(req)
	}

	if err != nil {
		e.finish(ctx, ev, req.Action, start, err)
		return
	}

	e.emitResponse(ctx, ev, resp)
	if e.metrics != nil {
		e.metrics.RecordRequest(req.Action, resp.Status, time.Since(start).Seconds())
	}
	e.recordStoreState()
}

// finish emits the terminal error status for a failed request.
func (e *Engine) finish(ctx context.Context, ev *nostr.Event, action string, start time.Time, err error) {
	code := protocol.CodeOf(err)
	e.log.RequestFailed(ev.ID, action, string(code), err)
	e.emitError(ctx, ev, err)
	if e.metrics != nil {
		e.metrics.RecordRequest(action, string(code), time.Since(start).Seconds())
	}
}

// handleStore decodes, bounds, chunks, stores, and broadcasts a file.
// All chunk events are published before the response is emitted.
func (e *Engine) handleStore(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	payload := req.Payload
	if int64(len(payload)) > chunker.MaxFileSize {
		return protocol.Response{}, protocol.Errf(protocol.CodeFileTooLarge,
			"payload %d bytes exceeds limit %d", len(payload), chunker.MaxFileSize)
	}
	if e.cfg.MaxStorageBytes > 0 && e.store.LiveBytes()+int64(len(payload)) > e.cfg.MaxStorageBytes {
		return protocol.Response{}, protocol.Errf(protocol.CodeStorageFull,
			"live bytes would exceed capacity %d", e.cfg.MaxStorageBytes)
	}

	fileHash := chunker.HashBytes(payload)
	chunks := chunker.Split(payload)

	rec := &store.FileRecord{
		Hash:      fileHash,
		Size:      int64(len(payload)),
		Chunks:    chunks,
		Filename:  req.Filename,
		ExpiresAt: time.Now().Add(e.cfg.Retention),
	}
	e.store.Put(rec)

	// Re-storing identical bytes keeps the original record and its
	// expiry; the response reflects whatever the store retained.
	kept, ok := e.store.Get(fileHash)
	if !ok {
		return protocol.Response{}, protocol.Errf(protocol.CodeInternalError, "record vanished after put")
	}

	if err := e.publishChunks(ctx, kept); err != nil {
		return protocol.Response{}, err
	}

	expires := kept.ExpiresAt.Unix()
	e.log.FileStored(fileHash, kept.Size, len(kept.Chunks), expires)

	return protocol.Response{
		Hash:    fileHash,
		Size:    kept.Size,
		Chunks:  len(kept.Chunks),
		Expires: expires,
		Status:  protocol.StatusStored,
	}, nil
}

// handleRetrieve republishes the chunk events for a stored file.
func (e *Engine) handleRetrieve(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	rec, ok := e.store.Get(req.Hash)
	if !ok {
		return protocol.Response{}, protocol.Errf(protocol.CodeFileNotFound, "no record for %s", req.Hash)
	}

	if err := e.publishChunks(ctx, rec); err != nil {
		return protocol.Response{}, err
	}

	return protocol.Response{
		Hash:    rec.Hash,
		Size:    rec.Size,
		Chunks:  len(rec.Chunks),
		Expires: rec.ExpiresAt.Unix(),
		Status:  protocol.StatusAvailable,
	}, nil
}

// handleDelete removes a file from this server. Already-broadcast
// chunks cannot be recalled; deletion only stops future retrievals.
func (e *Engine) handleDelete(req protocol.Request) (protocol.Response, error) {
	if !e.store.Delete(req.Hash) {
		return protocol.Response{}, protocol.Errf(protocol.CodeFileNotFound, "no record for %s", req.Hash)
	}

	return protocol.Response{
		Hash:   req.Hash,
		Status: protocol.StatusDeleted,
	}, nil
}

// publishChunks broadcasts every chunk event for a record, index
// ascending, throttled by the token bucket. The same expiration tag
// from the record rides on every chunk.
func (e *Engine) publishChunks(ctx context.Context, rec *store.FileRecord) error {
	start := time.Now()
	total := len(rec.Chunks)
	expiration := rec.ExpiresAt.Unix()

	for _, c := range rec.Chunks {
		if err := e.limiter.Wait(ctx, 1); err != nil {
			return protocol.Errf(protocol.CodeInternalError, "chunk publish cancelled: %v", err)
		}
		ev := protocol.BuildChunkEvent(rec.Hash, c, total, expiration)
		if err := e.relay.Publish(ctx, ev); err != nil {
			return protocol.Errf(protocol.CodeInternalError, "chunk %d publish: %v", c.Index, err)
		}
		if e.metrics != nil {
			e.metrics.RecordChunkPublished(c.Size())
		}
	}

	e.log.ChunksPublished(rec.Hash, total, time.Since(start))
	return nil
}

func (e *Engine) publishAnnouncement(ctx context.Context) error {
	ev := protocol.BuildAnnouncement(protocol.Announcement{
		Name:           e.cfg.Name,
		About:          e.cfg.About,
		MaxFileSize:    chunker.MaxFileSize,
		ChunkSize:      chunker.ChunkSize,
		RetentionHours: int(e.cfg.Retention / time.Hour),
	})
	if err := e.relay.Publish(ctx, ev); err != nil {
		return err
	}
	e.log.Info("published service announcement")
	return nil
}

func (e *Engine) emitResponse(ctx context.Context, req *nostr.Event, resp protocol.Response) {
	ev := protocol.BuildResponse(resp, req.ID, req.PubKey)
	if err := e.relay.Publish(ctx, ev); err != nil {
		e.log.WithRequest(req.ID).Error(err, "response publish failed")
	}
}

func (e *Engine) emitStatus(ctx context.Context, req *nostr.Event, keyword, message string) {
	ev := protocol.BuildStatus(req.ID, req.PubKey, keyword, message, "")
	if err := e.relay.Publish(ctx, ev); err != nil {
		e.log.WithRequest(req.ID).Error(err, "status publish failed")
	}
}

func (e *Engine) emitError(ctx context.Context, req *nostr.Event, cause error) {
	code := protocol.CodeOf(cause)
	ev := protocol.BuildStatus(req.ID, req.PubKey, protocol.StatusError, code.Message(), code)
	if err := e.relay.Publish(ctx, ev); err != nil {
		e.log.WithRequest(req.ID).Error(err, "error status publish failed")
	}
}

func (e *Engine) recordStoreState() {
	if e.metrics != nil {
		e.metrics.RecordStoreState(e.store.Count(), e.store.LiveBytes())
	}
}
