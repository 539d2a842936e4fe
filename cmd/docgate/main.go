// docgate service
// Gates a hierarchical document corpus behind credential checks,
// flood control, and time-bounded blocking
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mechdocs/docgate/internal/config"
	"github.com/mechdocs/docgate/internal/logger"
	"github.com/mechdocs/docgate/internal/metrics"
	"github.com/mechdocs/docgate/internal/server"
	"github.com/mechdocs/docgate/pkg/auth"
	"github.com/mechdocs/docgate/pkg/block"
	"github.com/mechdocs/docgate/pkg/corpus"
	"github.com/mechdocs/docgate/pkg/dispatch"
	"github.com/mechdocs/docgate/pkg/flood"
	"github.com/mechdocs/docgate/pkg/nav"
	"github.com/mechdocs/docgate/pkg/sched"
	"github.com/mechdocs/docgate/pkg/search"
	"github.com/mechdocs/docgate/pkg/session"
	"github.com/mechdocs/docgate/pkg/store"
)

func main() {
	logger.InitGlobalLogger(logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Pretty: os.Getenv("LOG_PRETTY") == "true",
	})
	log := logger.GetGlobalLogger()

	cfg, err := config.Load(*log.GetZerolog())
	if err != nil {
		log.Fatal("Invalid configuration").Err(err).Send()
	}

	st, err := store.Open(cfg.DBFile, 4)
	if err != nil {
		log.Fatal("Failed to open database").Err(err).Str("db", cfg.DBFile).Send()
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup sweeps: drop bindings whose credential was revoked while
	// the service was down, and stale block records with them.
	removed, err := st.RemoveRevoked(ctx, cfg.AuthorizedNumbers)
	if err != nil {
		log.Fatal("Revocation sweep failed").Err(err).Send()
	}
	for _, userID := range removed {
		log.Info("Revoked binding removed").Int64("user_id", userID).Send()
	}
	if err := st.ClearBlocks(ctx); err != nil {
		log.Fatal("Clearing stale blocks failed").Err(err).Send()
	}

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		log.Fatal("Failed to load rules").Err(err).Send()
	}

	tree, err := corpus.LoadFile(cfg.CorpusFile, corpus.Options{GatedSections: rules.GatedSections})
	if err != nil {
		log.Fatal("Failed to load corpus").Err(err).Str("corpus", cfg.CorpusFile).Send()
	}
	log.Info("Corpus loaded").
		Str("file", cfg.CorpusFile).
		Int("index_entries", len(tree.Index)).
		Send()

	var synonyms search.Synonyms
	if len(rules.Synonyms) > 0 {
		synonyms = search.Synonyms(rules.Synonyms)
	}

	m := metrics.NewMetrics(nil)
	sessions := session.NewManager()
	blocks := block.NewRegistry(st)
	defer blocks.Close()
	creds := auth.NewCredentialSet(cfg.AuthorizedNumbers)
	outbox := server.NewOutbox(100)

	machine := auth.NewMachine(auth.Config{
		MaxAttempts:   cfg.MaxAuthAttempts,
		BlockDuration: cfg.BlockDuration,
		AdminIDs:      cfg.AdminIDs,
	}, st, blocks, creds, outbox, sessions, *log.AuthLogger().GetZerolog())

	gate := flood.NewGate(cfg.FloodLimit, cfg.FloodPeriod, cfg.FloodBlockTime, cfg.AdminIDs)

	dispatcher := dispatch.NewDispatcher(gate, blocks, sessions, machine,
		nav.NewEngine(tree), search.NewEngine(tree.Index, synonyms),
		st, m, *log.DispatchLogger().GetZerolog())

	scheduler := sched.NewScheduler(sched.Config{
		InactivityTimeout: cfg.InactivityTimeout,
		ApprovalTimeout:   cfg.ApprovalTimeout,
	}, blocks, sessions, *log.SchedLogger().GetZerolog())
	go scheduler.Run(ctx)

	obs := server.NewObservabilityServer(cfg.ObservabilityAddr, log)
	go func() {
		if err := obs.Start(); err != nil {
			log.Error("Observability server stopped").Err(err).Send()
		}
	}()

	apiServer := server.NewServer(cfg.ListenAddr, dispatcher, machine, st, outbox, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.LogServerShutdown()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("API server shutdown failed").Err(err).Send()
		}
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Error("Observability shutdown failed").Err(err).Send()
		}
	}()

	log.Info("docgate starting").
		Str("listen", cfg.ListenAddr).
		Str("observability", cfg.ObservabilityAddr).
		Str("db", cfg.DBFile).
		Int("admins", len(cfg.AdminIDs)).
		Send()

	if err := apiServer.Start(); err != nil {
		log.Fatal("Server failed").Err(err).Send()
	}
}
