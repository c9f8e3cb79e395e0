// Package relay wraps the nostr relay-client library behind the small
// surface the engines consume: connect, publish-signed-event,
// subscribe-with-filter, query-past-events. Key parsing, signing, and
// signature verification are delegated to go-nostr.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/rs/zerolog"

	"github.com/blobdvm/blobdvm/internal/validation"
)

var (
	ErrNoRelays      = errors.New("no relays configured")
	ErrNotConnected  = errors.New("not connected to any relay")
	ErrPublishFailed = errors.New("event rejected by every relay")
)

// ParseKey accepts a private key as 64-char hex or bech32 nsec and
// returns the hex form.
func ParseKey(input string) (string, error) {
	if input == "" {
		return "", errors.New("empty private key")
	}
	if prefix, value, err := nip19.Decode(input); err == nil {
		if prefix != "nsec" {
			return "", fmt.Errorf("expected nsec key, got %s", prefix)
		}
		return value.(string), nil
	}
	if !nostr.IsValid32ByteHex(input) {
		return "", errors.New("private key is neither nsec nor 64-char hex")
	}
	return input, nil
}

// GeneratePrivateKey returns a fresh hex private key.
func GeneratePrivateKey() string {
	return nostr.GeneratePrivateKey()
}

// Client fans events out to a fixed relay set and merges events coming
// back in.
type Client struct {
	sk   string
	pk   string
	urls []string
	log  zerolog.Logger

	mu     sync.Mutex
	relays []*nostr.Relay
}

// NewClient builds a client for the given key and relay URLs. It does
// not connect; call Connect.
func NewClient(privateKey string, urls []string, log zerolog.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}
	for _, u := range urls {
		if err := validation.ValidateRelayURL(u); err != nil {
			return nil, err
		}
	}

	pk, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	return &Client{sk: privateKey, pk: pk, urls: urls, log: log}, nil
}

// PublicKey returns the hex public key of the signing identity.
func (c *Client) PublicKey() string { return c.pk }

// ConnectedCount returns the number of live relay connections.
func (c *Client) ConnectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.relays)
}

// Connect dials every configured relay. It succeeds if at least one
// connection comes up; unreachable relays are logged and skipped.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, url := range c.urls {
		r, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			c.log.Warn().Str("relay", url).Err(err).Msg("relay connection failed")
			continue
		}
		c.log.Info().Str("relay", url).Msg("connected to relay")
		c.relays = append(c.relays, r)
	}

	if len(c.relays) == 0 {
		return ErrNotConnected
	}
	return nil
}

// Sign signs ev in place with the client identity.
func (c *Client) Sign(ev *nostr.Event) error {
	return ev.Sign(c.sk)
}

// Publish signs ev (if not already signed) and sends it to every
// connected relay. It succeeds when at least one relay accepts.
func (c *Client) Publish(ctx context.Context, ev *nostr.Event) error {
	if ev.Sig == "" {
		if err := c.Sign(ev); err != nil {
			return fmt.Errorf("sign event: %w", err)
		}
	}

	c.mu.Lock()
	relays := append([]*nostr.Relay(nil), c.relays...)
	c.mu.Unlock()

	if len(relays) == 0 {
		return ErrNotConnected
	}

	accepted := 0
	for _, r := range relays {
		if err := r.Publish(ctx, *ev); err != nil {
			c.log.Debug().Str("relay", r.URL).Str("event", ev.ID).Err(err).Msg("publish rejected")
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return ErrPublishFailed
	}
	return nil
}

// Subscribe opens the filter set on every connected relay and merges
// the notification streams, deduplicated by event id. The returned
// cancel func releases all subscriptions; the channel closes once every
// relay stream ends.
func (c *Client) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error) {
	c.mu.Lock()
	relays := append([]*nostr.Relay(nil), c.relays...)
	c.mu.Unlock()

	if len(relays) == 0 {
		return nil, nil, ErrNotConnected
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan *nostr.Event, 64)

	var (
		wg   sync.WaitGroup
		seen sync.Map
		subs []*nostr.Subscription
	)

	for _, r := range relays {
		sub, err := r.Subscribe(subCtx, filters)
		if err != nil {
			c.log.Warn().Str("relay", r.URL).Err(err).Msg("subscribe failed")
			continue
		}
		subs = append(subs, sub)

		wg.Add(1)
		go func(sub *nostr.Subscription) {
			defer wg.Done()
			for {
				select {
				case <-subCtx.Done():
					return
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					if _, dup := seen.LoadOrStore(ev.ID, struct{}{}); dup {
						continue
					}
					select {
					case out <- ev:
					case <-subCtx.Done():
						return
					}
				}
			}
		}(sub)
	}

	if len(subs) == 0 {
		cancel()
		return nil, nil, ErrNotConnected
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	release := func() {
		cancel()
		for _, sub := range subs {
			sub.Unsub()
		}
	}
	return out, release, nil
}

// Query runs a one-shot historical fetch against every connected relay
// and returns the union, deduplicated by event id.
func (c *Client) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	c.mu.Lock()
	relays := append([]*nostr.Relay(nil), c.relays...)
	c.mu.Unlock()

	if len(relays) == 0 {
		return nil, ErrNotConnected
	}

	seen := make(map[string]struct{})
	var merged []*nostr.Event

	for _, r := range relays {
		events, err := r.QuerySync(ctx, filter)
		if err != nil {
			c.log.Warn().Str("relay", r.URL).Err(err).Msg("query failed")
			continue
		}
		for _, ev := range events {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}

	return merged, nil
}

// Close shuts every relay connection down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.relays {
		if err := r.Close(); err != nil {
			c.log.Debug().Str("relay", r.URL).Err(err).Msg("relay close")
		}
	}
	c.relays = nil
}
