package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"agentworld.ai/internal/command"
	"agentworld.ai/internal/config"
	"agentworld.ai/internal/persistence/indexdb"
	persistlog "agentworld.ai/internal/persistence/log"
	"agentworld.ai/internal/protocol"
	"agentworld.ai/internal/subscription"
	"agentworld.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		configPath = flag.String("config", "", "path to config yaml (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
		disableLog = flag.Bool("disable_event_log", false, "disable compressed event/audit logs")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.ListenAddr = *addr
	}
	if strings.TrimSpace(*dataDir) != "" {
		cfg.DataDir = *dataDir
	}
	if *disableDB {
		cfg.DisableIndex = true
	}
	if *disableLog {
		cfg.DisableEventLog = true
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	var recorders []ws.Recorder
	if !cfg.DisableEventLog {
		pl := persistlog.NewLogger(cfg.DataDir)
		defer pl.Close()
		recorders = append(recorders, pl)
	}
	if !cfg.DisableIndex {
		idx, err := indexdb.Open(filepath.Join(cfg.DataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		recorders = append(recorders, idx)
	}

	router := command.NewRouter(command.NewRegistry(), cfg.DataDir, logger)
	subs := subscription.NewManager(nil, logger)
	wsSrv := ws.NewServer(router, subs, ws.Options{
		Root:            cfg.DataDir,
		DefaultClientID: cfg.DefaultClientID,
		MaxQueue:        cfg.MaxQueue,
		Recorder:        multiRecorder(recorders),
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := wsSrv.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP agentworld_clients_connected Currently connected clients.\n")
		fmt.Fprintf(rw, "# TYPE agentworld_clients_connected gauge\n")
		fmt.Fprintf(rw, "agentworld_clients_connected %d\n", m.ClientsConnected.Load())

		fmt.Fprintf(rw, "# HELP agentworld_subscriptions_active Currently active world subscriptions.\n")
		fmt.Fprintf(rw, "# TYPE agentworld_subscriptions_active gauge\n")
		fmt.Fprintf(rw, "agentworld_subscriptions_active %d\n", m.SubscriptionsActive.Load())

		fmt.Fprintf(rw, "# HELP agentworld_commands_total Processed commands by outcome.\n")
		fmt.Fprintf(rw, "# TYPE agentworld_commands_total counter\n")
		fmt.Fprintf(rw, "agentworld_commands_total{outcome=%q} %d\n", "ok", m.CommandsOK.Load())
		fmt.Fprintf(rw, "agentworld_commands_total{outcome=%q} %d\n", "error", m.CommandsFailed.Load())

		fmt.Fprintf(rw, "# HELP agentworld_events_forwarded_total Events forwarded to subscribed clients.\n")
		fmt.Fprintf(rw, "# TYPE agentworld_events_forwarded_total counter\n")
		fmt.Fprintf(rw, "agentworld_events_forwarded_total %d\n", m.EventsForwarded.Load())

		fmt.Fprintf(rw, "# HELP agentworld_events_dropped_total Events dropped on saturated or closed connections.\n")
		fmt.Fprintf(rw, "# TYPE agentworld_events_dropped_total counter\n")
		fmt.Fprintf(rw, "agentworld_events_dropped_total %d\n", m.EventsDropped.Load())
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (data=%s)", cfg.ListenAddr, cfg.DataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// multiRecorder fans one record call out to every backend.
type multiRecorder []ws.Recorder

func (m multiRecorder) RecordEvent(worldID string, ev protocol.WorldEvent) {
	for _, r := range m {
		r.RecordEvent(worldID, ev)
	}
}

func (m multiRecorder) RecordCommand(worldID, clientID string, cmd protocol.CommandMsg, resp protocol.ResponseMsg) {
	for _, r := range m {
		r.RecordCommand(worldID, clientID, cmd, resp)
	}
}
