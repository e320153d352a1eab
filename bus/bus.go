// Package bus is this EC's connection to the Nostr relay network: it
// is the sole place nbd-wtf/go-nostr is imported. It gift-wraps
// outbound direct messages (NIP-59: rumor -> seal -> gift wrap),
// unwraps inbound ones, and publishes/queries the two addressable
// kinds this system defines (35000 election announcements, 35001
// tallies), mirroring the nostr_sdk usage in the original
// implementation's main.rs (EventBuilder::gift_wrap,
// nip59::extract_rumor, Kind::Custom(35_000/35_001)).
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
)

// KindAnnouncement and KindTally are the two addressable event kinds
// this system defines, replacing a row in the elections/candidates
// tables with a signed, relay-distributed document.
const (
	KindAnnouncement = 35000
	KindTally        = 35001
)

// DefaultRelays is used when the operator does not override it via
// configuration.
var DefaultRelays = []string{"wss://relay.mostro.network"}

// Bus wraps a pool of relay connections under the EC's own Nostr
// identity.
type Bus struct {
	pool    *nostr.SimplePool
	relays  []string
	privkey string
	pubkey  string
}

// Connect dials every relay in relays (best effort — a relay that
// fails to connect is skipped, not fatal, since Nostr's whole point is
// relay redundancy) under the identity given by privkeyHex.
func Connect(ctx context.Context, privkeyHex string, relays []string) (*Bus, error) {
	pubkey, err := nostr.GetPublicKey(privkeyHex)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	if len(relays) == 0 {
		relays = DefaultRelays
	}
	pool := nostr.NewSimplePool(ctx)
	for _, url := range relays {
		pool.EnsureRelay(url)
	}
	return &Bus{pool: pool, relays: relays, privkey: privkeyHex, pubkey: pubkey}, nil
}

// PublicKey returns the EC's own hex-encoded Nostr public key.
func (b *Bus) PublicKey() string {
	return b.pubkey
}

// Close tears down every relay connection.
func (b *Bus) Close() {
	b.pool.Close("shutdown")
}

// SendGiftWrapped wraps content (already-encoded Message JSON) as a
// kind-13 seal inside a kind-1059 gift wrap addressed to
// recipientPubkey, then publishes it to every connected relay. This is
// the Go equivalent of EventBuilder::gift_wrap in the original
// implementation.
func (b *Bus) SendGiftWrapped(ctx context.Context, recipientPubkey string, kind int, content string) error {
	rumorEvent := nostr.Event{
		Kind:      kind,
		Content:   content,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
	}

	wrap, err := nip59.GiftWrapCreate(rumorEvent, b.privkey, recipientPubkey)
	if err != nil {
		return fmt.Errorf("gift wrap to %s: %w", recipientPubkey, err)
	}

	for _, url := range b.relays {
		relay, err := b.pool.EnsureRelay(url)
		if err != nil {
			continue
		}
		if err := relay.Publish(ctx, wrap); err != nil {
			continue
		}
	}
	return nil
}

// Inbound is an unwrapped gift-wrapped message addressed to this EC:
// the sender's (voter's) pubkey and the rumor's raw JSON content,
// which the caller decodes with protocol.DecodeMessage — this package
// has no notion of the message schema carried inside, the same
// separation the original implementation keeps between nip59::extract_rumor
// and Message::from_json(&event.rumor.content).
type Inbound struct {
	SenderPubkey string
	Content      string
}

// Subscribe opens a subscription for gift wraps (kind 1059) addressed
// to this EC's own pubkey, and delivers unwrapped rumors on the
// returned channel until ctx is cancelled. Malformed envelopes (failed
// unwrap) are dropped, matching the original main.rs event loop which
// silently continues past a failed nip59::extract_rumor.
func (b *Bus) Subscribe(ctx context.Context) <-chan Inbound {
	out := make(chan Inbound)
	filter := nostr.Filter{
		Kinds: []int{nostr.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{b.pubkey}},
	}
	events := b.pool.SubscribeMany(ctx, b.relays, filter)

	go func() {
		defer close(out)
		for ie := range events {
			rumorEvent, err := nip59.GiftUnwrap(*ie.Event, b.privkey)
			if err != nil {
				continue
			}
			select {
			case out <- Inbound{SenderPubkey: rumorEvent.PubKey, Content: rumorEvent.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// AddressableEvent is a published kind-35000/35001 event: the
// identifier tag ("d") is the election id, so republishing the same
// id replaces the previous event on every relay that honors NIP-33/
// NIP-01 replaceable-event semantics.
type AddressableEvent struct {
	Kind       int
	Identifier string
	Content    string
	ExpiresAt  int64
}

// PublishAddressable signs and publishes an addressable event. Errors
// from individual relays are not fatal — at least one successful
// publish is enough for the network to converge, callers wanting
// stronger delivery guarantees should retry at a higher level (see
// publisher.Publisher).
func (b *Bus) PublishAddressable(ctx context.Context, ev AddressableEvent) error {
	event := nostr.Event{
		PubKey:    b.pubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      ev.Kind,
		Content:   ev.Content,
		Tags: nostr.Tags{
			{"d", ev.Identifier},
			{"expiration", fmt.Sprintf("%d", ev.ExpiresAt)},
		},
	}
	if err := event.Sign(b.privkey); err != nil {
		return fmt.Errorf("sign addressable event %s: %w", ev.Identifier, err)
	}

	var lastErr error
	published := 0
	for _, url := range b.relays {
		relay, err := b.pool.EnsureRelay(url)
		if err != nil {
			lastErr = err
			continue
		}
		if err := relay.Publish(ctx, event); err != nil {
			lastErr = err
			continue
		}
		published++
	}
	if published == 0 && lastErr != nil {
		return fmt.Errorf("publish %s to every relay: %w", ev.Identifier, lastErr)
	}
	return nil
}
