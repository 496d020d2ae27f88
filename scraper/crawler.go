package scraper

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"car_scrooper/config"
	"car_scrooper/models"
)

// Enricher reads the detail page of one listing
type Enricher interface {
	Extract(ctx context.Context, session Session, link string) (*models.ListingDetails, *models.VehicleSpec, error)
}

// CrawlResult is the complete batch of one crawl
type CrawlResult struct {
	Listings       []models.ScrapedListing
	Pages          int
	DetailFailures int
}

// Crawler walks the paginated index of one site
type Crawler struct {
	browser Browser
	site    *config.SiteConfig
	retry   RetryPolicy
	details Enricher
}

func NewCrawler(browser Browser, site *config.SiteConfig) *Crawler {
	retry := NewRetryPolicy(site.Retry)
	return &Crawler{
		browser: browser,
		site:    site,
		retry:   retry,
		details: NewDetailExtractor(site, retry),
	}
}

// WithEnricher swaps the detail extractor, mostly for tests
func (c *Crawler) WithEnricher(e Enricher) *Crawler {
	c.details = e
	return c
}

// Crawl renders startURL and every page reachable through "next" links, in
// order, enriching each page's listings before moving on. It stops when
// there is no next link, a URL repeats, or MaxPages is reached.
//
// An index page that cannot be loaded fails the whole crawl. A listing whose
// detail page fails is kept without details.
func (c *Crawler) Crawl(ctx context.Context, startURL string) (*CrawlResult, error) {
	session, err := c.browser.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("Warning: failed to close session: %v", err)
		}
	}()

	index, err := session.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open index page: %w", err)
	}
	defer index.Close()

	result := &CrawlResult{}
	visited := make(map[string]bool)
	currentURL := startURL

	for currentURL != "" {
		if visited[currentURL] {
			log.Printf("Pagination cycle at %s, stopping", currentURL)
			break
		}
		if c.site.MaxPages > 0 && result.Pages >= c.site.MaxPages {
			log.Printf("Reached max pages (%d), stopping", c.site.MaxPages)
			break
		}
		visited[currentURL] = true

		err := c.retry.Do(ctx, func() error {
			return index.Goto(ctx, currentURL, GotoOptions{Timeout: c.site.PageTimeout})
		})
		if err != nil {
			return nil, fmt.Errorf("load index page %s: %w", currentURL, err)
		}

		doc, err := index.Document(ctx)
		if err != nil {
			return nil, fmt.Errorf("read index page %s: %w", currentURL, err)
		}
		result.Pages++
		if doc.Url != nil {
			visited[doc.Url.String()] = true
		}

		stubs := ExtractListings(doc, currentURL, c.site.Selectors)
		log.Printf("Page %d: %d listings (%s)", result.Pages, len(stubs), currentURL)

		enriched, failures := c.enrich(ctx, session, stubs)
		result.Listings = append(result.Listings, enriched...)
		result.DetailFailures += failures

		next, ok := FindNextPageLink(doc, currentURL, c.site.Selectors)
		if !ok {
			break
		}
		currentURL = next
	}

	return result, nil
}

// enrich fetches detail pages for stubs concurrently. Every stub comes back,
// in order; failed ones carry no details.
func (c *Crawler) enrich(ctx context.Context, session Session, stubs []models.ListingStub) ([]models.ScrapedListing, int) {
	out := make([]models.ScrapedListing, len(stubs))
	failed := make([]bool, len(stubs))

	// Failures are recorded, never returned, so one listing cannot cancel its siblings.
	var g errgroup.Group
	if c.site.DetailConcurrency > 0 {
		g.SetLimit(c.site.DetailConcurrency)
	}

	for i, stub := range stubs {
		out[i] = models.ScrapedListing{ListingStub: stub}
		g.Go(func() error {
			details, spec, err := c.details.Extract(ctx, session, *stub.Link)
			if err != nil {
				log.Printf("Warning: detail extraction failed for %s: %v", *stub.Link, err)
				failed[i] = true
				return nil
			}
			out[i].Details = details
			out[i].Spec = spec
			return nil
		})
	}
	g.Wait()

	failures := 0
	for _, f := range failed {
		if f {
			failures++
		}
	}
	return out, failures
}
