// Command ecd is the Electoral Commission core daemon: it loads the
// EC's Nostr identity and RSA blind-signature keypair, hydrates the
// in-memory registry from the durable store, connects to the relay
// network, and runs the status sweep, the admin HTTP API, and the
// inbound message loop until a shutdown signal arrives. It follows the
// teacher's own main.go shape (flag-based Config, signal.Notify on
// SIGINT/SIGTERM/SIGQUIT, a select between server/loop errors and the
// shutdown signal).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ec-core/ec/adminapi"
	"github.com/ec-core/ec/bus"
	"github.com/ec-core/ec/keyvault"
	"github.com/ec-core/ec/protocol"
	"github.com/ec-core/ec/publisher"
	"github.com/ec-core/ec/registry"
	"github.com/ec-core/ec/status"
	"github.com/ec-core/ec/store"
)

// Config holds every flag this daemon accepts, mirroring the
// teacher's own Config struct for its http/blockchain flags.
type Config struct {
	AppDir      string
	AdminAddr   string
	Relays      string
	QueueSize   int
	PoolWorkers int
}

func parseFlags() *Config {
	cfg := &Config{}
	bindIP := os.Getenv("GRPC_BIND_IP")
	if bindIP == "" {
		bindIP = "127.0.0.1"
	}
	flag.StringVar(&cfg.AppDir, "dir", "data", "directory for the bbolt store, app.log and RSA key files")
	flag.StringVar(&cfg.AdminAddr, "admin-addr", bindIP+":50001", "bind address for the admin HTTP API (GRPC_BIND_IP, default 127.0.0.1, port 50001)")
	flag.StringVar(&cfg.Relays, "relays", "", "comma-separated relay URLs (defaults to bus.DefaultRelays when empty)")
	flag.IntVar(&cfg.QueueSize, "pool-queue-size", 64, "sign/verify worker pool queue depth")
	flag.IntVar(&cfg.PoolWorkers, "pool-workers", 4, "sign/verify worker pool size per job type")
	flag.Parse()
	return cfg
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cfg := parseFlags()

	if err := os.MkdirAll(cfg.AppDir, 0700); err != nil {
		log.Fatalf("create app directory: %v", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.AppDir, "app.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Fatalf("open app.log: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)

	nostrIdentity, err := keyvault.LoadNostrIdentity()
	if err != nil {
		log.Fatalf("load Nostr identity: %v", err)
	}
	log.Printf("ecd: Nostr identity %s", nostrIdentity.PublicKeyHex)

	rsaKeys, err := keyvault.LoadRSAKeyPair(cfg.AppDir)
	if err != nil {
		log.Fatalf("load RSA keypair: %v", err)
	}

	db, err := store.Open(filepath.Join(cfg.AppDir, "ec.db"))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	reg := registry.New()
	elections, err := db.LoadAllElections()
	if err != nil {
		log.Fatalf("load elections: %v", err)
	}
	for _, e := range elections {
		reg.Insert(e)
	}
	log.Printf("ecd: hydrated %d election(s) from store", len(elections))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relays := parseRelays(cfg.Relays)
	nostrBus, err := bus.Connect(ctx, nostrIdentity.PrivateKeyHex, relays)
	if err != nil {
		log.Fatalf("connect to relays: %v", err)
	}
	defer nostrBus.Close()

	now := func() int64 { return time.Now().Unix() }
	pub := publisher.New(busPublisherAdapter{nostrBus}, reg, now)

	// Re-announce every hydrated election at boot, covering the case
	// where relays dropped the previous announcement while this
	// process was down.
	for _, e := range elections {
		pub.RepublishAnnouncement(e.ID)
	}

	signer, err := protocol.NewSigner(rsaKeys.Private)
	if err != nil {
		log.Fatalf("construct blind signer: %v", err)
	}
	verifier := protocol.NewVerifier(rsaKeys.Public)
	pool := protocol.NewPool(signer, verifier, cfg.QueueSize, cfg.PoolWorkers)
	defer pool.Stop()

	engine := protocol.NewEngine(reg, db, pool, nostrBus, pub, now)

	statusEngine := status.New(reg, db, pub)
	statusEngine.Sweep()
	statusEngine.Start()
	defer statusEngine.Stop()

	mux := http.NewServeMux()
	adminServer := adminapi.NewServer(reg, db, adminapi.Secp256k1Validator{}, pub, now)
	adminServer.Routes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("ecd: admin API listening on %s", cfg.AdminAddr)
		serverErrCh <- http.ListenAndServe(cfg.AdminAddr, mux)
	}()

	go runInboundLoop(ctx, nostrBus, engine)

	select {
	case err := <-serverErrCh:
		log.Fatalf("admin API server error: %v", err)
	case sig := <-sigCh:
		log.Printf("ecd: received signal %v, shutting down", sig)
	}
}

// runInboundLoop drains the bus's subscription, decodes each message,
// and hands it to the protocol engine, mirroring the original
// implementation's main event loop over the relay pool's notification
// stream.
func runInboundLoop(ctx context.Context, b *bus.Bus, eng *protocol.Engine) {
	for inbound := range b.Subscribe(ctx) {
		msg, err := protocol.DecodeMessage(inbound.Content)
		if err != nil {
			log.Printf("ecd: decode message from %s: %v", protocol.LogFingerprint(inbound.SenderPubkey), err)
			continue
		}
		eng.HandleInbound(ctx, inbound.SenderPubkey, msg)
	}
}

func parseRelays(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	relays := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			relays = append(relays, p)
		}
	}
	return relays
}

// busPublisherAdapter adapts *bus.Bus's AddressableEvent type to
// publisher.AddressableEvent so publisher never needs to import bus
// directly (see publisher.Bus's doc comment).
type busPublisherAdapter struct {
	b *bus.Bus
}

func (a busPublisherAdapter) PublishAddressable(ctx context.Context, ev publisher.AddressableEvent) error {
	return a.b.PublishAddressable(ctx, bus.AddressableEvent{
		Kind:       ev.Kind,
		Identifier: ev.Identifier,
		Content:    ev.Content,
		ExpiresAt:  ev.ExpiresAt,
	})
}
