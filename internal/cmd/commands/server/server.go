package server

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/internal/api"
	"github.com/jsenecal/netbox-notices/internal/composer"
	"github.com/jsenecal/netbox-notices/internal/config"
	"github.com/jsenecal/netbox-notices/internal/db"
	"github.com/jsenecal/netbox-notices/internal/lifecycle"
	"github.com/jsenecal/netbox-notices/internal/server"
	"github.com/jsenecal/netbox-notices/pkg/inventory"
	"github.com/jsenecal/netbox-notices/pkg/journal"
	"github.com/jsenecal/netbox-notices/pkg/reference"
)

type Command struct {
	Log hclog.Logger
	UI  cli.Ui

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run the notices server"
}

func (c *Command) Help() string {
	return `Usage: notices server -config=<path>

  Starts the composition engine and its HTTP API.

  -config=<path>
      Path to the HCL configuration file (required).
`
}

func (c *Command) Run(args []string) int {
	f := flag.NewFlagSet("server", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "Path to the HCL configuration file")
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagConfig == "" {
		c.UI.Error("missing required -config flag")
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}
	log := c.Log
	if level := hclog.LevelFromString(cfg.LogLevel); level != hclog.NoLevel {
		log.SetLevel(level)
	}

	gormDB, err := db.NewDB(*cfg.Postgres, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing database: %v", err))
		return 1
	}

	if cfg.InventoryPath == "" {
		c.UI.Error("missing inventory_path in configuration")
		return 1
	}
	inv, err := inventory.Load(cfg.InventoryPath)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading inventory: %v", err))
		return 1
	}

	registry, err := newRegistry(cfg.AllowedTargetTypes)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error in allowed_target_types: %v", err))
		return 1
	}
	inv.RegisterFetchers(registry)

	sink, closeSink, err := newJournalSink(cfg.Journal, gormDB, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error initializing journal sink: %v", err))
		return 1
	}
	defer closeSink()

	srv := server.Server{
		Config: cfg,
		DB:     gormDB,
		Logger: log,
		Composer: composer.NewComposer(gormDB, inv, inv, composer.Config{
			BaseURL:               cfg.BaseURL,
			DefaultTemplateWeight: cfg.DefaultTemplateWeight,
			Registry:              registry,
		}, log),
		Lifecycle: lifecycle.NewStateMachine(gormDB, inv, sink, log),
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/events/", api.EventsHandler(srv))
	mux.Handle("/api/v1/messages", api.MessagesHandler(srv))
	mux.Handle("/api/v1/messages/", api.MessagesHandler(srv))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		c.UI.Error(fmt.Sprintf("server error: %v", err))
		return 1
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			c.UI.Error(fmt.Sprintf("error during shutdown: %v", err))
			return 1
		}
	}
	return 0
}

// newRegistry builds the reference registry from the configured allow
// list. An empty list permits every type the engine understands.
func newRegistry(allowed []string) (*reference.Registry, error) {
	types := reference.Types()
	if len(allowed) > 0 {
		types = types[:0:0]
		for _, s := range allowed {
			t, err := reference.ParseType(s)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
	}
	return reference.NewRegistry(types...), nil
}

// newJournalSink builds the configured journal sink and a close function.
func newJournalSink(
	cfg *config.Journal, gormDB *gorm.DB, log hclog.Logger,
) (journal.Sink, func(), error) {
	noop := func() {}
	switch cfg.Sink {
	case "db":
		return journal.NewDBSink(gormDB), noop, nil
	case "log":
		return journal.NewLogSink(log), noop, nil
	case "kafka":
		sink, err := journal.NewKafkaSink(journal.KafkaSinkConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		})
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown journal sink %q", cfg.Sink)
	}
}
