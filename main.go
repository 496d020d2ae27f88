package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"car_scrooper/api"
	"car_scrooper/config"
	"car_scrooper/httputil"
	"car_scrooper/logging"
	"car_scrooper/models"
	"car_scrooper/scheduler"
	"car_scrooper/scraper"
	"car_scrooper/services"
	"car_scrooper/storage"
	"car_scrooper/workers"
)

var (
	scrapeNow = flag.Bool("scrape", false, "Run scrape once and exit")
	sourceID  = flag.String("source", "", "Only scrape this source (with -scrape)")
	dryRun    = flag.Bool("dry-run", false, "Reconcile into an in-memory store instead of Postgres")
	reset     = flag.Bool("reset", false, "Clear run history, logs and queued commands, then exit")
)

// listingStore is what both the Postgres and in-memory stores provide
type listingStore interface {
	services.Gateway
	workers.ImageStore
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Println("Starting car_scrooper...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath, cfg.LogMaxSize)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for _, id := range cfg.SiteIDs() {
		site := cfg.Sites[id]
		log.Printf("  - %s (%s, %s renderer)", site.Name, id, site.Renderer)
	}

	policy, err := services.ParseCreatePolicy(cfg.CreatePolicy)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SQLite holds operational data: runs, logs, commands
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	if *reset {
		if err := sqliteStore.ResetAllData(); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		log.Println("Operational data cleared")
		return
	}

	var listings listingStore
	if *dryRun || cfg.Database.URL == "" {
		log.Println("Dry run: listings are kept in memory and discarded on exit")
		listings = storage.NewMemoryStore()
	} else {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate Postgres: %v", err)
		}
		listings = pgStore
	}

	playwrightBrowser := scraper.NewPlaywrightBrowser(cfg.Browser, cfg.Proxy.URL)
	defer playwrightBrowser.Close()
	browsers := map[string]scraper.Browser{
		config.RendererPlaywright: playwrightBrowser,
		config.RendererHTTP:       scraper.NewHTTPBrowser(clients.Rendering),
	}

	reconciler := services.NewReconciler(listings, policy)
	orchestrator := scraper.NewOrchestrator(cfg, sqliteStore, browsers, reconciler)

	var mediaWorker *workers.MediaWorker
	if cfg.S3.Enabled() {
		s3Uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to set up S3: %v", err)
		}
		log.Printf("Mirroring images to bucket %s", cfg.S3.Bucket)

		mediaWorker = workers.NewMediaWorker(listings, s3Uploader, clients.Media)
		mediaWorker.SetLogger(func(level models.LogLevel, source, message string) {
			if err := sqliteStore.Log(nil, level, message, source); err != nil {
				log.Printf("Warning: failed to persist log line: %v", err)
			}
		})
		orchestrator.SetMediaWorker(mediaWorker)
	} else {
		log.Println("Image mirroring disabled: no bucket configured")
	}

	if *scrapeNow {
		runOnce(ctx, orchestrator)
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	if mediaWorker != nil {
		go mediaWorker.Run(ctx, 20, 2*time.Minute) // batch of 20 every 2 min
		log.Println("Media worker started")
	}

	router := api.NewRouter(api.NewHandler(orchestrator, listings, sqliteStore))
	serveErr := make(chan error, 1)
	go func() { serveErr <- api.Serve(ctx, cfg.HTTPAddr, router) }()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Printf("HTTP server error: %v", err)
		}
		stop()
	}

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

func runOnce(ctx context.Context, o *scraper.Orchestrator) {
	if *sourceID == "" {
		log.Println("Running scrape...")
		if err := o.RunAll(ctx); err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Println("Scrape complete!")
		return
	}

	run, err := o.RunSite(ctx, *sourceID)
	if err != nil {
		log.Fatalf("Scrape of %s failed: %v", *sourceID, err)
	}
	log.Printf("Scrape of %s complete: %d pages, %d listings, %d new, %d price changes, %d marked sold",
		*sourceID, run.PagesCrawled, run.ListingsFound, run.ListingsNew, run.PriceChanges, run.MarkedSold)
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
