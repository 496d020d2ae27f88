package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"car_scrooper/config"
	"car_scrooper/models"
	"car_scrooper/services"
	"car_scrooper/storage"
)

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrAlreadyRunning = errors.New("source is already being scraped")
)

// RunStore records runs and their log lines
type RunStore interface {
	CreateRun(run *models.ScrapeRun) (int64, error)
	UpdateRun(run *models.ScrapeRun) error
	Log(runID *int64, level models.LogLevel, message, sourceID string) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, sourceID string, batch []models.ScrapedListing) (*services.ReconcileStats, error)
}

// Triggerer is anything that can be asked to do its work now
type Triggerer interface {
	Trigger()
}

// Orchestrator runs crawl + reconcile per source and keeps run records
type Orchestrator struct {
	cfg        *config.Config
	store      RunStore
	browsers   map[string]Browser // by renderer name
	reconciler Reconciler
	media      Triggerer
	paused     atomic.Bool

	mu      sync.Mutex
	running map[string]bool
}

func NewOrchestrator(cfg *config.Config, store RunStore, browsers map[string]Browser, reconciler Reconciler) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		browsers:   browsers,
		reconciler: reconciler,
		running:    make(map[string]bool),
	}
}

// SetMediaWorker wires the image mirror so run_media commands reach it
func (o *Orchestrator) SetMediaWorker(m Triggerer) {
	o.media = m
}

func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.paused.Load() {
		log.Println("Scraper is paused, skipping run")
		return nil
	}

	var failed int
	for _, id := range o.cfg.SiteIDs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := o.RunSite(ctx, id); err != nil {
			log.Printf("Error running source %s: %v", id, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(o.cfg.Sites))
	}
	return nil
}

// RunSite crawls one source and reconciles the complete batch into the
// listing store. A crawl error fails the whole run before anything is
// written, so a partial crawl can never mark listings sold.
func (o *Orchestrator) RunSite(ctx context.Context, sourceID string) (*models.ScrapeRun, error) {
	site, ok := o.cfg.Sites[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	browser, ok := o.browsers[site.Renderer]
	if !ok {
		return nil, fmt.Errorf("no %s renderer configured for %s", site.Renderer, sourceID)
	}

	if !o.acquire(sourceID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, sourceID)
	}
	defer o.release(sourceID)

	run := &models.ScrapeRun{
		SourceID:  sourceID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	runID, err := o.store.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = runID

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		if err := o.store.UpdateRun(run); err != nil {
			log.Printf("Warning: failed to update run %d: %v", run.ID, err)
		}
	}()

	fail := func(err error) (*models.ScrapeRun, error) {
		run.Status = models.RunStatusFailed
		run.ErrorsCount++
		run.ErrorMessage = err.Error()
		o.log(run.ID, models.LogLevelError, err.Error(), sourceID)
		return run, err
	}

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scrape for %s (%s)", site.Name, site.StartURL), sourceID)

	result, err := NewCrawler(browser, site).Crawl(ctx, site.StartURL)
	if err != nil {
		return fail(fmt.Errorf("crawl: %w", err))
	}

	run.PagesCrawled = result.Pages
	run.ListingsFound = len(result.Listings)
	run.DetailFailures = result.DetailFailures
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Crawled %d pages: %d listings, %d without details", result.Pages, len(result.Listings), result.DetailFailures), sourceID)

	stats, err := o.reconciler.Reconcile(ctx, sourceID, result.Listings)
	if stats != nil {
		run.ListingsNew = stats.Created
		run.PriceChanges = stats.PriceChanges
		run.MarkedSold = stats.MarkedSold
		run.ErrorsCount += stats.Errors()
	}
	if err != nil {
		return fail(fmt.Errorf("reconcile: %w", err))
	}

	if stats.Reappeared > 0 {
		o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("%d sold listings reappeared and were kept sold", stats.Reappeared), sourceID)
	}

	run.Status = models.RunStatusCompleted
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d found, %d new, %d updated (%d price changes), %d marked sold, %d errors",
			run.ListingsFound, stats.Created, stats.Updated, stats.PriceChanges, stats.MarkedSold, run.ErrorsCount), sourceID)

	if o.media != nil && stats.Created > 0 {
		o.media.Trigger()
	}

	return run, nil
}

func (o *Orchestrator) acquire(sourceID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[sourceID] {
		return false
	}
	o.running[sourceID] = true
	return true
}

func (o *Orchestrator) release(sourceID string) {
	o.mu.Lock()
	delete(o.running, sourceID)
	o.mu.Unlock()
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		return o.RunAll(ctx)
	case models.CmdScrapeSite:
		if params.Source != "" {
			_, err := o.RunSite(ctx, params.Source)
			return err
		}
		return o.RunAll(ctx)
	case models.CmdPause:
		o.paused.Store(true)
		log.Println("Scraper paused")
	case models.CmdResume:
		o.paused.Store(false)
		log.Println("Scraper resumed")
	case models.CmdRunMedia:
		if o.media == nil {
			return fmt.Errorf("media worker not configured")
		}
		o.media.Trigger()
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, sourceID string) {
	log.Printf("[%s] %s: %s", level, sourceID, message)
	if err := o.store.Log(&runID, level, message, sourceID); err != nil {
		log.Printf("Warning: failed to persist log line: %v", err)
	}
}

// Sources lists the configured sources in id order
func (o *Orchestrator) Sources() []models.Source {
	var out []models.Source
	for _, id := range o.cfg.SiteIDs() {
		out = append(out, siteSource(o.cfg.Sites[id]))
	}
	return out
}

func (o *Orchestrator) Source(id string) (models.Source, bool) {
	site, ok := o.cfg.Sites[id]
	if !ok {
		return models.Source{}, false
	}
	return siteSource(site), true
}

func siteSource(site *config.SiteConfig) models.Source {
	return models.Source{ID: site.ID, Name: site.Name, StartURL: site.StartURL}
}

// Status is a snapshot of the orchestrator for the status endpoint
type Status struct {
	Paused  bool     `json:"paused"`
	Sources []string `json:"sources"`
	Running []string `json:"running"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	running := make([]string, 0, len(o.running))
	for id := range o.running {
		running = append(running, id)
	}
	o.mu.Unlock()
	sort.Strings(running)

	return Status{
		Paused:  o.paused.Load(),
		Sources: o.cfg.SiteIDs(),
		Running: running,
	}
}
