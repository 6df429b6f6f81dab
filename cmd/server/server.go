// Command server runs the exchange process: the TCP gateway, the
// per-symbol matching workers, the WAL, and the HTTP/websocket surface.
// Adapted from the teacher's cmd/server/server.go, which wired only a
// bare net.Server and engine.Engine with a hardcoded address.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/bus"
	"fenrir/internal/collab"
	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/httpapi"
	"fenrir/internal/ledger"
	"fenrir/internal/net"
	"fenrir/internal/publish"
	"fenrir/internal/wal"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "", "path to a YAML/JSON config file")
	envPath := flag.String("env", ".env", "path to a .env file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	symbolConfigs, err := cfg.SymbolConfigs()
	if err != nil {
		log.Fatal().Err(err).Msg("parsing symbol configs")
	}
	for i := range symbolConfigs {
		symbolConfigs[i].FeeAccount = cfg.FeeAccount
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	checkpoint, err := wal.OpenCheckpoint(cfg.WALDir + "/checkpoint")
	if err != nil {
		log.Fatal().Err(err).Msg("opening checkpoint store")
	}
	defer checkpoint.Close()

	walWriter, err := wal.OpenWriter(cfg.WALDir + "/events.wal")
	if err != nil {
		log.Fatal().Err(err).Msg("opening wal")
	}
	defer walWriter.Close()

	led := ledger.New()
	eventBus := bus.New(cfg.BusSubscriberQueueSize)
	sink := walSink{bus: eventBus, wal: walWriter}
	publisher := publish.NewPublisher(sink, func() int64 { return time.Now().UnixNano() })

	replayed, err := replaySeqs(cfg.WALDir + "/events.wal")
	if err != nil {
		log.Error().Err(err).Msg("replaying wal")
		os.Exit(2)
	}
	for symbol, seq := range replayed {
		publisher.SeedSeq(symbol, seq)
	}
	log.Info().Int("symbols", len(replayed)).Msg("wal replay complete")

	t, ctx := tomb.WithContext(ctx)

	gatewayConfigs := make([]engine.Config, len(symbolConfigs))
	for i, sc := range symbolConfigs {
		gatewayConfigs[i] = engine.Config{Symbol: sc, QueueSize: 256}
	}

	// identity is the in-memory stand-in for the WalletAdapter/
	// AuthResolver/KycPolicy boundary (spec.md §1/§6): no concrete
	// custody, auth, or KYC provider is in scope, but the Gateway and
	// the subscription bus still consult it for limits and identity.
	identity := collab.NewInMemory()

	gw := engine.NewGateway(t, gatewayConfigs, led, publisher, identity,
		cfg.FeeAccount, rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst,
		func() int64 { return time.Now().UnixNano() })

	tcpServer := net.New(cfg.GatewayAddr, cfg.GatewayPort, gw)
	t.Go(func() error { return tcpServer.Run(ctx) })

	httpHandler := httpapi.New(gw, gw.BookSnapshot, eventBus, identity)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: httpHandler}
	t.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("gateway", fmt.Sprintf("%s:%d", cfg.GatewayAddr, cfg.GatewayPort)).
		Str("http", cfg.HTTPAddr).
		Int("symbols", len(symbolConfigs)).
		Msg("fenrir exchange starting")

	<-ctx.Done()
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
	}
}

// walSink writes every event to the WAL before handing it to the bus,
// so a crash between commit and delivery never loses an event a client
// might already have been told about (spec.md §6). Grounded on the
// teacher's generateWireTradeReports/generateWireErrorReports (two ad
// hoc wire encodings), replaced here with one WAL record per committed
// event, its payload JSON-encoded by encodeEvent.
type walSink struct {
	bus *bus.Bus
	wal *wal.Writer
}

func (s walSink) Publish(e publish.Event) {
	if err := s.wal.Append(uint64(e.Seq), e.Ts, encodeEvent(e)); err != nil {
		log.Error().Err(err).Msg("wal append failed")
	}
	s.bus.Publish(e)
}
