package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"car_scrooper/config"
)

// PlaywrightBrowser renders pages in headless Chromium. The browser process
// is started on first use and shared by all sessions until Close.
type PlaywrightBrowser struct {
	cfg         config.BrowserConfig
	proxyURL    string
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewPlaywrightBrowser(cfg config.BrowserConfig, proxyURL string) *PlaywrightBrowser {
	return &PlaywrightBrowser{cfg: cfg, proxyURL: proxyURL}
}

func (b *PlaywrightBrowser) ensureBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	var err error
	b.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(b.cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if b.proxyURL != "" {
		opts.Proxy = &playwright.Proxy{Server: b.proxyURL}
	}

	b.browser, err = b.pw.Chromium.Launch(opts)
	if err != nil {
		b.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b.initialized = true
	return nil
}

func (b *PlaywrightBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.ensureBrowser(); err != nil {
		return nil, err
	}

	bctx, err := b.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &playwrightSession{context: bctx}, nil
}

func (b *PlaywrightBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}
	if err := b.browser.Close(); err != nil {
		log.Printf("Warning: failed to close browser: %v", err)
	}
	b.initialized = false
	return b.pw.Stop()
}

type playwrightSession struct {
	context playwright.BrowserContext
}

func (s *playwrightSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightPage{page: page}, nil
}

func (s *playwrightSession) Close() error {
	return s.context.Close()
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(ctx context.Context, target string, opts GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gotoOpts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}
	if opts.NetworkIdle {
		gotoOpts.WaitUntil = playwright.WaitUntilStateNetworkidle
	}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}

	resp, err := p.page.Goto(target, gotoOpts)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, target, err)
	}
	if resp != nil {
		return checkStatus(target, resp.Status())
	}
	return nil
}

func (p *playwrightPage) WaitFor(ctx context.Context, selector string, opts WaitOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	waitOpts := playwright.LocatorWaitForOptions{
		State: playwright.WaitForSelectorStateAttached,
	}
	if opts.Visible {
		waitOpts.State = playwright.WaitForSelectorStateVisible
	}
	if opts.Timeout > 0 {
		waitOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}

	if err := p.page.Locator(selector).First().WaitFor(waitOpts); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSelectorMissing, selector, err)
	}
	return nil
}

func (p *playwrightPage) Document(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := p.page.Content()
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if u, err := url.Parse(p.page.URL()); err == nil {
		doc.Url = u
	}
	return doc, nil
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

// checkStatus classifies a document response status
func checkStatus(target string, status int) error {
	switch {
	case status == 429 || status >= 500:
		return fmt.Errorf("%w: %s returned %d", ErrTransientStatus, target, status)
	case status >= 400:
		return fmt.Errorf("%s returned %d", target, status)
	}
	return nil
}
