package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wohnwatch/api"
	"wohnwatch/config"
	"wohnwatch/httputil"
	"wohnwatch/logging"
	"wohnwatch/models"
	"wohnwatch/notify"
	"wohnwatch/scheduler"
	"wohnwatch/scraper"
	"wohnwatch/services"
	"wohnwatch/storage"
	"wohnwatch/workers"
)

var (
	pollNow = flag.Bool("poll", false, "Poll all active searches once and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting wohnwatch...")
	log.Printf("Loaded %d provider configs", len(cfg.ProviderOrder))
	for _, id := range cfg.ProviderOrder {
		p := cfg.Providers[id]
		log.Printf("  - %s (%s, %s, enabled=%v)", p.Name, id, p.Kind, p.IsEnabled())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	switch cfg.Store.Backend {
	case "postgres":
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Store.DatabaseURL))
	case "json":
		log.Printf("JSON state file: %s", cfg.Store.DataFile)
	default:
		log.Printf("SQLite database: %s", cfg.Store.DBPath)
	}

	clients := httputil.NewClients(&cfg.HTTP)
	if cfg.HTTP.ProxyURL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.HTTP.ProxyURL))
	}
	browser := httputil.NewBrowserFetcher(cfg.HTTP.Timeout)
	defer browser.Close()

	deps := scraper.Dependencies{
		HTTP:    httputil.NewHTTPFetcher(clients.Scraping, cfg.HTTP.RequestsPerSecond, cfg.HTTP.MaxBodyBytes),
		Browser: browser,
		City:    cfg.City,
	}
	if cfg.S3.Bucket != "" {
		archiver, err := storage.NewS3Archiver(ctx, cfg.S3)
		if err != nil {
			log.Printf("Warning: S3 archive disabled: %v", err)
		} else {
			deps.Archiver = archiver
			log.Printf("Archiving empty provider pages to s3://%s", cfg.S3.Bucket)
		}
	}

	registry, err := scraper.BuildRegistry(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to build provider registry: %v", err)
	}

	orchestrator := scraper.NewOrchestrator(registry, cfg.Poll)
	recorder, hasRecorder := store.(storage.RunRecorder)
	if hasRecorder {
		orchestrator.SetRecorder(recorder)
	}

	notifier, closeNotifiers := buildNotifier(cfg)
	defer closeNotifiers()
	if notifier != nil {
		orchestrator.SetNotifier(notifier)
	}

	searches, err := services.NewSearchService(ctx, store, orchestrator, registry, cfg.Poll.SeenRetention)
	if err != nil {
		log.Fatalf("Failed to load state: %v", err)
	}
	log.Printf("Loaded %d searches", len(searches.List()))

	// Handle one-shot commands
	if *pollNow {
		log.Println("Running poll...")
		n := searches.RunActive(ctx)
		log.Printf("Poll complete: %d searches", n)
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, searches)
	queue, hasQueue := store.(storage.CommandQueue)
	if hasQueue {
		sched.SetCommandQueue(queue)
	}

	probe := workers.NewProbeWorker(clients.Scraping, workers.ProbeTargets(cfg))
	if hasRecorder {
		probe.SetLogger(func(level models.LogLevel, source, message string) {
			if err := recorder.Log(ctx, nil, level, source+": "+message, ""); err != nil {
				log.Printf("Warning: failed to record probe log: %v", err)
			}
		})
	}
	sched.SetProbeWorker(probe)
	go probe.Run(ctx, cfg.Scheduler.ProbeInterval)
	log.Println("Provider probe worker started")

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	server := api.NewServer(searches, registry)
	server.SetProbe(probe)
	server.SetStaticDir(cfg.Server.StaticDir)
	if hasQueue {
		server.SetCommandQueue(queue)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Server on %s", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

// buildNotifier combines every configured delivery channel. It returns nil when none is
// configured, and a close func releasing broker connections.
func buildNotifier(cfg *config.Config) (notify.Notifier, func()) {
	var notifiers notify.Multi
	closeFn := func() {}

	if cfg.SMTP.Enabled() {
		notifiers = append(notifiers, notify.NewEmailNotifier(cfg.SMTP))
		log.Printf("Email notifications via %s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	} else {
		log.Println("SMTP not configured, email notifications disabled")
	}

	if cfg.AMQP.URL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQP)
		if err != nil {
			log.Printf("Warning: AMQP notifications disabled: %v", err)
		} else {
			notifiers = append(notifiers, amqpNotifier)
			closeFn = func() {
				if err := amqpNotifier.Close(); err != nil {
					log.Printf("Warning: failed to close AMQP connection: %v", err)
				}
			}
			log.Printf("Publishing fresh listings to AMQP exchange %s", cfg.AMQP.Exchange)
		}
	}

	switch len(notifiers) {
	case 0:
		return nil, closeFn
	case 1:
		return notifiers[0], closeFn
	}
	return notifiers, closeFn
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
