package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/grid-scraper/internal/blobstore"
	"github.com/maltedev/grid-scraper/internal/database"
	"github.com/maltedev/grid-scraper/internal/events"
	"github.com/maltedev/grid-scraper/internal/models"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><body>
<div id="wayfinding-breadcrumbs_feature_div"><ul>
  <li><a href="/">Home</a></li>
  <li><a href="/electronics">Electronics</a></li>
  <li><a href="/mice">Mice</a></li>
</ul></div>
<h1 id="productTitle">Wireless Mouse</h1>
<span class="a-price"><span class="a-offscreen">$19.99</span></span>
<div id="imgTagWrapperId">
  <img src="https://img.example.com/a.png">
  <img src="https://img.example.com/b.png">
</div>
</body></html>`

const incompletePage = `<html><body><h1>Only a title</h1></body></html>`

// fakePages serves canned markup and links
type fakePages struct {
	mu      sync.Mutex
	html    map[string]string
	links   map[string][]string
	failing map[string]bool
	fetched []string
	block   chan struct{}
}

func (f *fakePages) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, pageURL)
	html, ok := f.html[pageURL]
	if !ok {
		return "", errors.New("navigation timeout")
	}
	return html, nil
}

func (f *fakePages) DiscoverLinks(_ context.Context, source models.SeedSource, max int) ([]string, error) {
	if f.failing[source.URL] {
		return nil, errors.New("listing page unavailable")
	}
	links := f.links[source.URL]
	if len(links) > max {
		links = links[:max]
	}
	return links, nil
}

// fakeImages serves image bytes by URL
type fakeImages struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls int
}

func (f *fakeImages) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.data[url]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

// fakeRepo records saved documents and status updates
type fakeRepo struct {
	mu       sync.Mutex
	docs     []*models.ProductDocument
	statuses []database.ScraperStatus
	saveErr  error
}

// SaveProduct runs hooks with a nil transaction; a failing hook discards the
// document the way a rollback would.
func (f *fakeRepo) SaveProduct(ctx context.Context, doc *models.ProductDocument, hooks ...database.TxHook) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	doc.ID = fmt.Sprintf("product-%d", len(f.docs))
	for _, hook := range hooks {
		if err := hook(ctx, nil); err != nil {
			return "", err
		}
	}
	f.docs = append(f.docs, doc)
	return doc.ID, nil
}

func (f *fakeRepo) SetScraperStatus(_ context.Context, status database.ScraperStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

// fakeEvents records queued payloads
type fakeEvents struct {
	mu       sync.Mutex
	payloads []*events.ProductScrapedPayload
	err      error
}

func (f *fakeEvents) PublishWithTx(_ context.Context, _ pgx.Tx, payload *events.ProductScrapedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(0, 0, c)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type harness struct {
	runner   *Runner
	pages    *fakePages
	images   *fakeImages
	repo     *fakeRepo
	events   *fakeEvents
	raw      *blobstore.MemoryStore
	imgStore *blobstore.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.Default()

	h := &harness{
		pages: &fakePages{
			html:    map[string]string{},
			links:   map[string][]string{},
			failing: map[string]bool{},
		},
		images: &fakeImages{data: map[string][]byte{
			"https://img.example.com/a.png": pngBytes(t, color.White),
			"https://img.example.com/b.png": pngBytes(t, color.Black),
		}},
		repo:     &fakeRepo{},
		events:   &fakeEvents{},
		raw:      blobstore.NewMemoryStore("raw"),
		imgStore: blobstore.NewMemoryStore("images"),
	}

	h.runner = NewRunner(Deps{
		Pages:    h.pages,
		Images:   NewPipeline(h.images, h.imgStore, 2, nil, logger),
		RawStore: h.raw,
		Products: h.repo,
		Events:   h.events,
	}, Options{
		Sources: []models.SeedSource{
			{Name: "one", URL: "https://shop-one.example/list", LinkSelector: "a"},
			{Name: "two", URL: "https://shop-two.example/list", LinkSelector: "a"},
		},
		MaxLinks: 5,
		DelayMin: time.Millisecond,
		DelayMax: 2 * time.Millisecond,
	}, logger)

	h.runner.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	return h
}
