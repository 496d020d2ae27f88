package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrNavigation      = errors.New("navigation failed")
	ErrTransientStatus = errors.New("transient http status")
	ErrSelectorMissing = errors.New("selector not found")
	ErrValidation      = errors.New("structural validation failed")
)

// Browser renders pages. One Session is opened per crawl.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is the rendering resource of a single crawl. Pages opened from it
// may be used concurrently, each by one goroutine.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one rendering context
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) error
	WaitFor(ctx context.Context, selector string, opts WaitOptions) error
	// Document returns a snapshot of the rendered DOM. Extraction runs on it
	// as plain data, without going back to the renderer.
	Document(ctx context.Context) (*goquery.Document, error)
	Close() error
}

type GotoOptions struct {
	Timeout     time.Duration
	NetworkIdle bool // wait until network activity settles, not just DOMContentLoaded
}

type WaitOptions struct {
	Visible bool
	Timeout time.Duration
}
