package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"car_scrooper/models"
	"car_scrooper/storage"
)

type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	puts    int
}

func newMemoryUploader() *memoryUploader {
	return &memoryUploader{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (u *memoryUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = b
	u.types[key] = contentType
	u.puts++
	return nil
}

func (u *memoryUploader) PublicURL(key string) string {
	return "https://cdn.cars.test/" + key
}

func (u *memoryUploader) Exists(ctx context.Context, key string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.objects[key]
	return ok, nil
}

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-body")

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/golf.png", "/copy.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngBytes)
		case "/noext":
			w.Header().Set("Content-Type", "image/webp")
			w.Write([]byte("webp-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedListing(t *testing.T, store *storage.MemoryStore, link, imageURL string) *models.Listing {
	t.Helper()
	l, err := store.CreateListing(context.Background(), &models.Listing{SourceID: "njuskalo", Link: link, ImageURL: &imageURL})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return l
}

func TestProcess_ContentAddressedKey(t *testing.T) {
	srv := imageServer(t)
	store := storage.NewMemoryStore()
	uploader := newMemoryUploader()
	w := NewMediaWorker(store, uploader, srv.Client())

	l := seedListing(t, store, "a", srv.URL+"/golf.png?w=920")
	result := w.Process(context.Background(), l)
	if result.Error != nil {
		t.Fatalf("process: %v", result.Error)
	}

	sum := sha256.Sum256(pngBytes)
	hash := hex.EncodeToString(sum[:])
	want := "listings/" + hash[:2] + "/" + hash + ".png"
	if result.Key != want {
		t.Fatalf("key = %q, want %q", result.Key, want)
	}
	if string(uploader.objects[want]) != string(pngBytes) || uploader.types[want] != "image/png" {
		t.Fatal("uploaded object does not match the download")
	}
	if result.URL != "https://cdn.cars.test/"+want {
		t.Fatalf("url = %q", result.URL)
	}
}

func TestProcess_SkipsExistingObject(t *testing.T) {
	srv := imageServer(t)
	store := storage.NewMemoryStore()
	uploader := newMemoryUploader()
	w := NewMediaWorker(store, uploader, srv.Client())

	first := w.Process(context.Background(), seedListing(t, store, "a", srv.URL+"/golf.png"))
	second := w.Process(context.Background(), seedListing(t, store, "b", srv.URL+"/copy.png"))
	if first.Error != nil || second.Error != nil {
		t.Fatalf("process: %v / %v", first.Error, second.Error)
	}
	if !second.Skipped || second.Key != first.Key {
		t.Fatalf("expected identical image to reuse key, got %+v", second)
	}
	if uploader.puts != 1 {
		t.Fatalf("expected one upload, got %d", uploader.puts)
	}
}

func TestProcessBatch_RecordsKeysAndGivesUp(t *testing.T) {
	srv := imageServer(t)
	store := storage.NewMemoryStore()
	uploader := newMemoryUploader()
	w := NewMediaWorker(store, uploader, srv.Client())
	w.delay = 0

	var warnings []string
	w.SetLogger(func(level models.LogLevel, source, message string) {
		warnings = append(warnings, message)
	})

	seedListing(t, store, "ok", srv.URL+"/noext")
	seedListing(t, store, "gone", srv.URL+"/missing.jpg")

	ctx := context.Background()
	processed, failed := w.ProcessBatch(ctx, 10)
	if processed != 1 || failed != 1 {
		t.Fatalf("first batch: processed %d, failed %d", processed, failed)
	}

	listings, _ := store.FindListingsBySource(ctx, "njuskalo")
	for _, l := range listings {
		switch l.Link {
		case "ok":
			if l.ImageKey == nil || !strings.HasSuffix(*l.ImageKey, ".webp") {
				t.Fatalf("expected webp key recorded, got %v", l.ImageKey)
			}
		case "gone":
			if l.ImageKey != nil {
				t.Fatal("failed image must not get a key")
			}
		}
	}

	for i := 0; i < maxImageAttempts; i++ {
		w.ProcessBatch(ctx, 10)
	}
	listings, _ = store.FindListingsBySource(ctx, "njuskalo")
	for _, l := range listings {
		if l.Link == "gone" && l.ImageFailures != maxImageAttempts {
			t.Fatalf("expected failures to stop at %d, got %d", maxImageAttempts, l.ImageFailures)
		}
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "giving up") {
		t.Fatalf("expected one give-up warning, got %v", warnings)
	}
}

func TestProcessBatch_GivenUpImagesDoNotBlockQueue(t *testing.T) {
	srv := imageServer(t)
	store := storage.NewMemoryStore()
	w := NewMediaWorker(store, newMemoryUploader(), srv.Client())
	w.delay = 0

	ctx := context.Background()
	base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
	for i, link := range []string{"old-1", "old-2"} {
		img := srv.URL + "/missing-" + link + ".jpg"
		store.CreateListing(ctx, &models.Listing{SourceID: "njuskalo", Link: link, ImageURL: &img, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	img := srv.URL + "/golf.png"
	fresh, _ := store.CreateListing(ctx, &models.Listing{SourceID: "njuskalo", Link: "fresh", ImageURL: &img, CreatedAt: base.Add(time.Hour)})

	total := 0
	for i := 0; i < maxImageAttempts+2; i++ {
		processed, _ := w.ProcessBatch(ctx, 2)
		total += processed
	}
	if total != 1 {
		t.Fatalf("expected the newer image to be mirrored once, got %d", total)
	}

	listings, _ := store.FindListingsBySource(ctx, "njuskalo")
	for _, l := range listings {
		if l.ID == fresh.ID && l.ImageKey == nil {
			t.Fatal("newer listing never got its image mirrored")
		}
	}
}

func TestProcessBatch_NoUploaderRecordsNothing(t *testing.T) {
	srv := imageServer(t)
	store := storage.NewMemoryStore()
	w := NewMediaWorker(store, nil, srv.Client())
	w.delay = 0

	seedListing(t, store, "a", srv.URL+"/golf.png")
	processed, failed := w.ProcessBatch(context.Background(), 10)
	if processed != 0 || failed != 0 {
		t.Fatalf("expected no work without an uploader, got %d/%d", processed, failed)
	}

	pending, _ := store.ListingsWithoutImageMirror(context.Background(), maxImageAttempts, 10)
	if len(pending) != 1 || pending[0].ImageKey != nil {
		t.Fatalf("listing must stay queued for a later mirror, got %+v", pending)
	}
}

func TestGuessExtension(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"https://cdn.example.hr/a/golf.JPG", "", ".jpg"},
		{"https://cdn.example.hr/a/golf.png?w=920#x", "image/jpeg", ".png"},
		{"https://cdn.example.hr/image/123", "image/gif", ".gif"},
		{"https://cdn.example.hr/image/123", "application/octet-stream", ".jpg"},
	}
	for _, tt := range tests {
		if got := guessExtension(tt.url, tt.contentType); got != tt.want {
			t.Errorf("guessExtension(%q, %q) = %q, want %q", tt.url, tt.contentType, got, tt.want)
		}
	}
}
