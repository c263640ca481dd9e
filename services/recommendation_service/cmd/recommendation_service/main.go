package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cropguard/recommendation/pkg/dtree"
	"github.com/cropguard/recommendation/pkg/rules"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/config"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/health"
	httpapi "github.com/cropguard/recommendation/services/recommendation_service/internal/http"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/metrics"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/processor"
	stor "github.com/cropguard/recommendation/services/recommendation_service/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/dev/recommendation_service.yaml", "path to config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	stats := engine.RuleStatistics()
	metrics.CatalogVersion.Set(float64(stats.CatalogVersion))
	log.Printf("rule catalog loaded: %d rules, %d active, %.1f%% expert validated",
		stats.TotalRules, stats.ActiveRules, stats.ValidationPercentage)

	if cfg.Rules.Watch {
		watcher, err := rules.NewCatalogWatcher(cfg.Rules.RulesPath, engine)
		if err != nil {
			log.Fatalf("watch rules: %v", err)
		}
		watcher.OnReload = func(n int, err error) {
			if err != nil {
				metrics.CatalogReloads.WithLabelValues("error").Inc()
				log.Printf("reload rules: %v (keeping catalog v%d)", err, engine.CatalogVersion())
				return
			}
			metrics.CatalogReloads.WithLabelValues("ok").Inc()
			metrics.CatalogVersion.Set(float64(engine.CatalogVersion()))
			log.Printf("rule catalog reloaded: %d rules, v%d", n, engine.CatalogVersion())
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Printf("rule watcher stopped: %v", err)
			}
		}()
	}

	audit, err := stor.New(stor.Config{
		PostgresDSN: cfg.Storage.PostgresDSN,
		WriteAudit:  cfg.Storage.WriteAudit,
	})
	if err != nil {
		log.Fatalf("create storage: %v", err)
	}
	defer audit.Close()

	var auditStore processor.AuditStore
	if audit.Enabled() {
		auditStore = audit
	}
	advisor, err := processor.NewAdvisor(engine, cfg.Models.DefaultTrees, cfg.Cache.Size, auditStore)
	if err != nil {
		log.Fatalf("new advisor: %v", err)
	}
	defer advisor.Close()

	if cfg.NATS.URL != "" {
		proc, err := processor.New(cfg, advisor)
		if err != nil {
			log.Fatalf("new processor: %v", err)
		}
		defer proc.Close()

		if err := proc.Start(ctx); err != nil {
			log.Fatalf("start processor: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/health", health.Handler("ok", engine.CatalogVersion))
	mux.Handle("/metrics", promhttp.Handler())
	httpapi.New(engine, advisor, audit).Register(mux)

	srv := &http.Server{
		Addr:         cfg.Service.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: 2 * cfg.Timeout,
	}

	go func() {
		log.Printf("recommendation service listening on %s", cfg.Service.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func newEngine(cfg *config.Config) (*rules.Engine, error) {
	var (
		catalog []rules.Rule
		err     error
	)
	if cfg.Rules.RulesPath != "" {
		catalog, err = rules.LoadRules(cfg.Rules.RulesPath)
	} else {
		catalog, err = rules.DefaultRules()
	}
	if err != nil {
		return nil, err
	}

	models, err := dtree.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	log.Printf("decision trees fitted: %v", models.Names())

	return rules.NewEngine(catalog, models)
}
