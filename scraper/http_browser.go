package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"car_scrooper/httputil"
)

// HTTPBrowser fetches pages without executing scripts. It serves sites that
// render listings server-side.
type HTTPBrowser struct {
	client *http.Client
}

func NewHTTPBrowser(client *http.Client) *HTTPBrowser {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBrowser{client: client}
}

func (b *HTTPBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpSession{client: b.client}, nil
}

func (b *HTTPBrowser) Close() error {
	return nil
}

type httpSession struct {
	client *http.Client
}

func (s *httpSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpPage{client: s.client}, nil
}

func (s *httpSession) Close() error {
	return nil
}

type httpPage struct {
	client *http.Client
	mu     sync.Mutex
	doc    *goquery.Document
}

func (p *httpPage) Goto(ctx context.Context, target string, opts GotoOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httputil.SetBrowserHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, target, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(target, resp.StatusCode); err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: parse html: %v", ErrNavigation, target, err)
	}
	doc.Url = resp.Request.URL

	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

// WaitFor only checks presence: a static document has no layout to be visible in
func (p *httpPage) WaitFor(ctx context.Context, selector string, opts WaitOptions) error {
	doc, err := p.Document(ctx)
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", ErrSelectorMissing, selector)
	}
	return nil
}

func (p *httpPage) Document(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	return p.doc, nil
}

func (p *httpPage) Close() error {
	p.mu.Lock()
	p.doc = nil
	p.mu.Unlock()
	return nil
}
