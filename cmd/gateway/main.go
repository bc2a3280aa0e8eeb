// Command gateway runs the uniassist gateway: the HTTP ingest/interact/
// events surface, the session routing engine, the transactional outbox
// worker pool, and the live-push subscription broker.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uniassist/gateway/pkg/api"
	"github.com/uniassist/gateway/pkg/broker"
	"github.com/uniassist/gateway/pkg/config"
	"github.com/uniassist/gateway/pkg/database"
	"github.com/uniassist/gateway/pkg/ingest"
	"github.com/uniassist/gateway/pkg/metrics"
	"github.com/uniassist/gateway/pkg/outbox"
	"github.com/uniassist/gateway/pkg/provider"
	"github.com/uniassist/gateway/pkg/security"
	"github.com/uniassist/gateway/pkg/session"
	"github.com/uniassist/gateway/pkg/timeline"
	"github.com/uniassist/gateway/pkg/usercontext"
)

// engineSeqSource adapts session.Engine to provider.SeqSource, letting
// pkg/provider hand out the next sequence number for a session without
// importing pkg/session directly.
type engineSeqSource struct {
	engine *session.Engine
}

func (a engineSeqSource) NextSeq(sessionID string) (int, bool) {
	st, ok := a.engine.Get(sessionID)
	if !ok {
		return 0, false
	}
	return st.NextSeq(), true
}

func main() {
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	if err := run(); err != nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database")

	streamClient, err := broker.NewRedisStreamClient(cfg.Stream.RedisURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := streamClient.Close(); err != nil {
			slog.Error("error closing redis stream client", "error", err)
		}
	}()

	brk := broker.New(streamClient, cfg.Stream.Prefix, cfg.Stream.GlobalKey)

	// registry is built before the components whose persistence failures it
	// counts (spec §7); its outbox pool reference is wired in once the pool
	// exists below.
	registry := metrics.NewRegistry(nil)

	sessionStore := timeline.NewStore(dbClient.Client, timeline.NewBuffer())
	sessionStore.SetMetrics(registry)
	sessionEngine := session.NewEngine(sessionStore, cfg.Routing)

	outboxWriter := outbox.NewWriter(dbClient.Client, sessionStore, brk, cfg.Stream.Prefix, cfg.Stream.GlobalKey, cfg.OutboxInlineDispatch)
	outboxWriter.SetMetrics(registry)
	outboxWriter.SetMaxAttempts(cfg.Outbox.MaxAttempts)
	outboxPool := outbox.NewPool(dbClient.Client, brk, *cfg.Outbox)
	outboxPool.Start(ctx)
	defer outboxPool.Stop()
	registry.SetOutboxPool(outboxPool)

	// recorder is shared between the ingest pipeline and the provider
	// invoker, so every event either writes — whether authored directly by
	// Pipeline or by an Invoker.Invoke/Interact call it makes — lands
	// through the same durable outbox append.
	recorder := ingest.NewEventRecorder(outboxWriter)

	transports := map[string]provider.Transport{
		provider.BuiltinChatID: provider.NewBuiltinChatTransport(),
	}
	for providerID, baseURL := range cfg.ProviderBaseURLs {
		transports[providerID] = provider.NewHTTPTransport(baseURL)
	}

	runStore := provider.NewRunStore(dbClient.Client)
	invoker := provider.NewInvoker(transports, recorder, runStore, engineSeqSource{engine: sessionEngine})

	nonces := security.NewNonceCache(cfg.Security.NonceTTL)
	verifier := security.NewSignatureVerifier(cfg.Security.AdapterSecret, nonces, cfg.Security.ClockSkew)

	pipeline := ingest.NewPipeline(sessionEngine, recorder, runStore, invoker, verifier)

	userContext := usercontext.NewCache(dbClient.Client, cfg.UserContext.SnapshotTTL)
	userContext.SetMetrics(registry)

	server := api.NewServer(cfg, dbClient, pipeline, sessionStore, brk, outboxPool, userContext, verifier)
	server.SetMetrics(registry)
	if err := server.ValidateWiring(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "port", cfg.Port)
		serveErr <- server.StartWithListener(ln)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
