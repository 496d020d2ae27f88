package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"car_scrooper/models"
)

// fakeBrowser serves canned HTML keyed by URL and counts resource lifetimes
type fakeBrowser struct {
	pages map[string]string
	fail  map[string]error

	sessionsOpened atomic.Int32
	sessionsClosed atomic.Int32
	pagesOpened    atomic.Int32
	pagesClosed    atomic.Int32
}

func (b *fakeBrowser) NewSession(ctx context.Context) (Session, error) {
	b.sessionsOpened.Add(1)
	return &fakeSession{browser: b}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakeSession struct {
	browser *fakeBrowser
}

func (s *fakeSession) NewPage(ctx context.Context) (Page, error) {
	s.browser.pagesOpened.Add(1)
	return &fakePage{browser: s.browser}, nil
}

func (s *fakeSession) Close() error {
	s.browser.sessionsClosed.Add(1)
	return nil
}

type fakePage struct {
	browser *fakeBrowser
	mu      sync.Mutex
	doc     *goquery.Document
}

func (p *fakePage) Goto(ctx context.Context, target string, opts GotoOptions) error {
	if err, ok := p.browser.fail[target]; ok {
		return err
	}
	html, ok := p.browser.pages[target]
	if !ok {
		return fmt.Errorf("%s returned 404", target)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}
	doc.Url, _ = url.Parse(target)
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

func (p *fakePage) WaitFor(ctx context.Context, selector string, opts WaitOptions) error {
	doc, err := p.Document(ctx)
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", ErrSelectorMissing, selector)
	}
	return nil
}

func (p *fakePage) Document(ctx context.Context) (*goquery.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return p.doc, nil
}

func (p *fakePage) Close() error {
	p.browser.pagesClosed.Add(1)
	return nil
}

func indexHTML(links []string, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i, link := range links {
		fmt.Fprintf(&b, `<li class="EntityList-item"><h3 class="entity-title"><a href="%s">Car %d</a></h3><strong class="price--hrk">%d 000 €</strong></li>`, link, i, i+1)
	}
	b.WriteString("</ul>")
	if next != "" {
		fmt.Fprintf(&b, `<ul><li class="Pagination-item--next"><a href="%s">next</a></li></ul>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestCrawl_DetailFailureKeepsStub(t *testing.T) {
	detail := string(loadFixture(t, "detail.html"))
	start := "https://www.example.hr/list"

	var links []string
	browser := &fakeBrowser{pages: map[string]string{}, fail: map[string]error{}}
	for i := 0; i < 5; i++ {
		link := fmt.Sprintf("https://www.example.hr/auti/car-%d", i)
		links = append(links, link)
		browser.pages[link] = detail
	}
	browser.pages[start] = indexHTML(links, "")
	browser.fail[links[2]] = fmt.Errorf("%w: connection reset", ErrNavigation)

	result, err := NewCrawler(browser, testSite()).Crawl(context.Background(), start)
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	if len(result.Listings) != 5 {
		t.Fatalf("expected all 5 stubs back, got %d", len(result.Listings))
	}
	if result.DetailFailures != 1 {
		t.Fatalf("expected 1 detail failure, got %d", result.DetailFailures)
	}
	for i, l := range result.Listings {
		if *l.Link != links[i] {
			t.Fatalf("listing %d out of order: %s", i, *l.Link)
		}
		enriched := l.Details != nil && l.Spec != nil
		if i == 2 && enriched {
			t.Fatalf("failed listing should carry no details")
		}
		if i != 2 && !enriched {
			t.Fatalf("listing %d should be enriched", i)
		}
	}

	if got := browser.pagesOpened.Load(); got != browser.pagesClosed.Load() {
		t.Fatalf("leaked pages: opened %d, closed %d", got, browser.pagesClosed.Load())
	}
	if browser.pagesOpened.Load() != 6 {
		t.Fatalf("expected 1 index page + 5 detail pages, got %d", browser.pagesOpened.Load())
	}
	if browser.sessionsOpened.Load() != 1 || browser.sessionsClosed.Load() != 1 {
		t.Fatalf("expected one session opened and closed, got %d/%d",
			browser.sessionsOpened.Load(), browser.sessionsClosed.Load())
	}
}

func TestCrawl_IndexFailureReleasesSession(t *testing.T) {
	start := "https://www.example.hr/list"
	browser := &fakeBrowser{
		pages: map[string]string{},
		fail:  map[string]error{start: fmt.Errorf("%w: dns failure", ErrNavigation)},
	}

	_, err := NewCrawler(browser, testSite()).Crawl(context.Background(), start)
	if err == nil {
		t.Fatal("expected crawl failure")
	}
	if !errors.Is(err, ErrNavigation) {
		t.Fatalf("expected navigation error, got %v", err)
	}
	if browser.sessionsClosed.Load() != 1 {
		t.Fatal("session not released after failure")
	}
	if browser.pagesOpened.Load() != browser.pagesClosed.Load() {
		t.Fatal("index page not released after failure")
	}
}

func TestCrawl_MaxPages(t *testing.T) {
	browser := &fakeBrowser{pages: map[string]string{}, fail: map[string]error{}}
	for i := 1; i <= 5; i++ {
		u := fmt.Sprintf("https://www.example.hr/list?page=%d", i)
		browser.pages[u] = indexHTML(nil, fmt.Sprintf("?page=%d", i+1))
	}

	site := testSite()
	site.MaxPages = 3
	result, err := NewCrawler(browser, site).Crawl(context.Background(), "https://www.example.hr/list?page=1")
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if result.Pages != 3 {
		t.Fatalf("expected 3 pages, got %d", result.Pages)
	}
}

type staticEnricher struct{}

func (staticEnricher) Extract(ctx context.Context, session Session, link string) (*models.ListingDetails, *models.VehicleSpec, error) {
	return &models.ListingDetails{}, &models.VehicleSpec{Make: "Opel", Model: "Astra"}, nil
}

func TestCrawl_PaginationCycleOverHTTP(t *testing.T) {
	page1 := loadFixture(t, "index_page1.html")
	page2 := loadFixture(t, "index_page2.html")

	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.RequestURI()
		n, _ := hits.LoadOrStore(key, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)

		switch r.URL.Query().Get("page") {
		case "1":
			w.Write(page1)
		case "2":
			w.Write(page2)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	crawler := NewCrawler(NewHTTPBrowser(srv.Client()), testSite()).WithEnricher(staticEnricher{})
	result, err := crawler.Crawl(context.Background(), srv.URL+"/list?page=1")
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	if result.Pages != 2 {
		t.Fatalf("expected crawl to stop after 2 pages, got %d", result.Pages)
	}
	if len(result.Listings) != 4 {
		t.Fatalf("expected 4 listings (3 + 1), got %d", len(result.Listings))
	}
	n, _ := hits.Load("/list?page=1")
	if n.(*atomic.Int32).Load() != 1 {
		t.Fatalf("page 1 fetched %d times", n.(*atomic.Int32).Load())
	}
}

func TestCrawl_EndToEndOverHTTP(t *testing.T) {
	index := loadFixture(t, "index_last.html")
	detail := loadFixture(t, "detail.html")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/list":
			w.Write(index)
		case strings.HasPrefix(r.URL.Path, "/auti/"):
			w.Write(detail)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	result, err := NewCrawler(NewHTTPBrowser(srv.Client()), testSite()).Crawl(context.Background(), srv.URL+"/list")
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if len(result.Listings) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(result.Listings))
	}

	l := result.Listings[0]
	if *l.Link != srv.URL+"/auti/fiat-punto-oglas-41234571" {
		t.Fatalf("unexpected link %s", *l.Link)
	}
	if *l.Price != "4200€" {
		t.Fatalf("unexpected price %s", *l.Price)
	}
	if l.Spec == nil || l.Spec.Make != "Volkswagen" {
		t.Fatalf("expected enriched spec, got %+v", l.Spec)
	}
	if l.Details == nil || l.Details.Mileage == nil || *l.Details.Mileage != 125000 {
		t.Fatalf("expected enriched details, got %+v", l.Details)
	}
}

func TestCrawl_FollowsRedirectedIndex(t *testing.T) {
	page1 := loadFixture(t, "index_page1.html")
	last := loadFixture(t, "index_last.html")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/old":
			http.Redirect(w, r, "/cars/list?page=1", http.StatusMovedPermanently)
		case r.URL.Path == "/cars/list" && r.URL.Query().Get("page") == "1":
			w.Write(page1)
		case r.URL.Path == "/cars/list" && r.URL.Query().Get("page") == "2":
			w.Write(last)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	crawler := NewCrawler(NewHTTPBrowser(srv.Client()), testSite()).WithEnricher(staticEnricher{})
	result, err := crawler.Crawl(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if result.Pages != 2 {
		t.Fatalf("expected pagination to follow the redirected path, got %d pages", result.Pages)
	}
	if len(result.Listings) != 4 {
		t.Fatalf("expected 4 listings, got %d", len(result.Listings))
	}
	if *result.Listings[0].Link != srv.URL+"/auti/vw-golf-oglas-41234567" {
		t.Fatalf("unexpected link %s", *result.Listings[0].Link)
	}
}
