package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"car_scrooper/models"
	"car_scrooper/scraper"
)

const defaultRunsLimit = 20

// Scraper is the orchestrator surface the API triggers and reports on
type Scraper interface {
	RunSite(ctx context.Context, sourceID string) (*models.ScrapeRun, error)
	Sources() []models.Source
	Source(id string) (models.Source, bool)
	Status() scraper.Status
}

type ListingReader interface {
	FindListingsBySource(ctx context.Context, sourceID string) ([]models.Listing, error)
}

// RunHistory is the operational store: past runs, their logs and the command queue
type RunHistory interface {
	RecentRuns(sourceID string, limit int) ([]models.ScrapeRun, error)
	RunLogs(runID int64) ([]models.ScrapeLog, error)
	EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error)
}

type Handler struct {
	scraper  Scraper
	listings ListingReader
	history  RunHistory
	started  time.Time
}

func NewHandler(s Scraper, listings ListingReader, history RunHistory) *Handler {
	return &Handler{
		scraper:  s,
		listings: listings,
		history:  history,
		started:  time.Now(),
	}
}

// Health reports liveness plus what the scraper is doing right now
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"scraper": h.scraper.Status(),
	})
}

// Scrape runs one source synchronously and returns the finished run
func (h *Handler) Scrape(c *gin.Context) {
	id := c.Param("companyId")

	run, err := h.scraper.RunSite(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrUnknownSource):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, scraper.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			log.Printf("Scrape %s failed: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run": run})
		}
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) ListCompanies(c *gin.Context) {
	sources := h.scraper.Sources()
	if sources == nil {
		sources = []models.Source{}
	}
	c.JSON(http.StatusOK, sources)
}

func (h *Handler) GetCompany(c *gin.Context) {
	source, ok := h.scraper.Source(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Company not found"})
		return
	}

	listings, err := h.sourceListings(c, source.ID)
	if err != nil {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"company":  source,
		"listings": listings,
	})
}

func (h *Handler) GetCompanyListings(c *gin.Context) {
	source, ok := h.scraper.Source(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Company not found"})
		return
	}

	listings, err := h.sourceListings(c, source.ID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, listings)
}

// sourceListings writes the error response itself when the read fails
func (h *Handler) sourceListings(c *gin.Context, sourceID string) ([]models.Listing, error) {
	listings, err := h.listings.FindListingsBySource(c.Request.Context(), sourceID)
	if err != nil {
		log.Printf("List listings of %s: %v", sourceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load listings"})
		return nil, err
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	return listings, nil
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.history.RecentRuns(c.Query("source"), limit)
	if err != nil {
		log.Printf("List runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load runs"})
		return
	}
	if runs == nil {
		runs = []models.ScrapeRun{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetRunLogs(c *gin.Context) {
	runID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}

	logs, err := h.history.RunLogs(runID)
	if err != nil {
		log.Printf("Run logs %d: %v", runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load logs"})
		return
	}
	if logs == nil {
		logs = []models.ScrapeLog{}
	}
	c.JSON(http.StatusOK, logs)
}

type commandRequest struct {
	Command string `json:"command" binding:"required,oneof=scrape_now scrape_site pause resume run_media"`
	Source  string `json:"source"`
}

// EnqueueCommand queues a command for the scheduler's poller
func (h *Handler) EnqueueCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.Source != "" {
		if _, ok := h.scraper.Source(req.Source); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Company not found"})
			return
		}
	}

	var params *models.CommandParams
	if req.Source != "" {
		params = &models.CommandParams{Source: req.Source}
	}

	id, err := h.history.EnqueueCommand(models.CommandType(req.Command), params)
	if err != nil {
		log.Printf("Enqueue command %s: %v", req.Command, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue command"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id, "command": req.Command})
}
