package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"car_scrooper/httputil"
	"car_scrooper/models"
)

const maxImageAttempts = 3

// ImageStore is the part of the listing store the mirror needs
type ImageStore interface {
	ListingsWithoutImageMirror(ctx context.Context, maxFailures, limit int) ([]models.Listing, error)
	SetListingImageKey(ctx context.Context, id uuid.UUID, key string) error
	RecordImageFailure(ctx context.Context, id uuid.UUID) (int, error)
}

// Uploader stores image bytes under a key
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// existenceChecker is implemented by uploaders that can tell whether a key is already stored
type existenceChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

type publicURLer interface {
	PublicURL(key string) string
}

// MediaWorker mirrors listing images into object storage so they survive the
// listing being taken down. A nil uploader disables mirroring.
type MediaWorker struct {
	store      ImageStore
	httpClient *http.Client
	uploader   Uploader
	logf       LogFunc
	delay      time.Duration
	trigger    chan struct{}
}

func NewMediaWorker(store ImageStore, uploader Uploader, client *http.Client) *MediaWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaWorker{
		store:      store,
		httpClient: client,
		uploader:   uploader,
		logf:       NoOpLogger,
		delay:      200 * time.Millisecond,
		trigger:    make(chan struct{}, 1),
	}
}

func (w *MediaWorker) SetLogger(fn LogFunc) {
	if fn != nil {
		w.logf = fn
	}
}

// MediaResult is the outcome of mirroring one image
type MediaResult struct {
	ListingID   uuid.UUID
	Key         string
	URL         string // public URL of Key, when the uploader knows it
	ContentHash string
	Size        int64
	Skipped     bool // already stored under Key
	Error       error
}

// Process downloads the listing's image, hashes it and uploads it under a
// content-addressed key.
func (w *MediaWorker) Process(ctx context.Context, listing *models.Listing) MediaResult {
	result := MediaResult{ListingID: listing.ID}
	if w.uploader == nil {
		result.Error = fmt.Errorf("no uploader configured")
		return result
	}
	if listing.ImageURL == nil {
		result.Error = fmt.Errorf("listing has no image")
		return result
	}
	imageURL := *listing.ImageURL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		return result
	}
	httputil.SetBrowserHeaders(req)
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("download: %w", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("download status: %d", resp.StatusCode)
		return result
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return result
	}
	result.Size = int64(len(data))

	hash := sha256.Sum256(data)
	result.ContentHash = hex.EncodeToString(hash[:])

	contentType := resp.Header.Get("Content-Type")
	ext := guessExtension(imageURL, contentType)
	result.Key = fmt.Sprintf("listings/%s/%s%s", result.ContentHash[:2], result.ContentHash, ext)

	if p, ok := w.uploader.(publicURLer); ok {
		result.URL = p.PublicURL(result.Key)
	}

	if checker, ok := w.uploader.(existenceChecker); ok {
		if exists, err := checker.Exists(ctx, result.Key); err == nil && exists {
			result.Skipped = true
			return result
		}
	}

	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := w.uploader.Upload(ctx, result.Key, bytes.NewReader(data), contentType); err != nil {
		result.Error = fmt.Errorf("upload: %w", err)
		return result
	}

	return result
}

// guessExtension determines file extension from URL or content-type
func guessExtension(rawURL, contentType string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// Trigger asks a running worker to process a batch now
func (w *MediaWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run processes a batch every interval, or sooner when triggered, until ctx is done
func (w *MediaWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Media worker stopping")
			return
		case <-ticker.C:
		case <-w.trigger:
		}
		w.ProcessBatch(ctx, batchSize)
	}
}

// ProcessBatch mirrors up to batchSize pending images. Listings whose image
// failed maxImageAttempts times are no longer queued.
func (w *MediaWorker) ProcessBatch(ctx context.Context, batchSize int) (processed, failed int) {
	if w.uploader == nil {
		return 0, 0
	}

	listings, err := w.store.ListingsWithoutImageMirror(ctx, maxImageAttempts, batchSize)
	if err != nil {
		log.Printf("Media worker: query error: %v", err)
		return 0, 0
	}

	for i := range listings {
		l := &listings[i]
		if ctx.Err() != nil {
			break
		}

		result := w.Process(ctx, l)
		if result.Error != nil {
			failed++
			n, err := w.store.RecordImageFailure(ctx, l.ID)
			if err != nil {
				log.Printf("Media worker: failed %s: %v (%v)", *l.ImageURL, result.Error, err)
				continue
			}
			log.Printf("Media worker: failed %s (attempt %d): %v", *l.ImageURL, n, result.Error)
			if n >= maxImageAttempts {
				w.logf(models.LogLevelWarn, l.SourceID, fmt.Sprintf("giving up on image for %s: %v", l.Link, result.Error))
			}
			continue
		}

		if err := w.store.SetListingImageKey(ctx, l.ID, result.Key); err != nil {
			log.Printf("Media worker: failed to record key for %s: %v", l.ID, err)
			failed++
			continue
		}

		processed++
		where := result.Key
		if result.URL != "" {
			where = result.URL
		}
		log.Printf("Media worker: mirrored %s -> %s (%d bytes)", l.Link, where, result.Size)

		if w.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.delay):
			}
		}
	}

	if processed > 0 || failed > 0 {
		log.Printf("Media worker: processed %d, failed %d", processed, failed)
	}
	return processed, failed
}
