package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/grid-scraper/internal/database"
	"github.com/maltedev/grid-scraper/internal/events"
	"github.com/maltedev/grid-scraper/internal/imaging"
	"github.com/maltedev/grid-scraper/internal/metrics"
	"github.com/maltedev/grid-scraper/internal/models"
	"github.com/maltedev/grid-scraper/internal/parser"
	"github.com/maltedev/grid-scraper/internal/queue"
	"github.com/maltedev/grid-scraper/internal/ratelimit"
)

type Deps struct {
	Pages    PageSource
	Parser   parser.Parser
	Images   *Pipeline
	RawStore imaging.ObjectStore
	Products ProductRepository
	Events   EventPublisher
	Metrics  *metrics.Metrics
}

type Options struct {
	Sources  []models.SeedSource
	MaxLinks int
	DelayMin time.Duration
	DelayMax time.Duration
}

type RunOptions struct {
	// TestURL, when set, replaces link discovery with this single page.
	TestURL string
	// DryRun extracts and logs records without writing anything.
	DryRun bool
}

// RunSummary counts what happened to the pages of one run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Discovered int    `json:"discovered"`
	Stored     int    `json:"stored"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// RunStatus is the runner's in-process view of the current or last run.
type RunStatus struct {
	Running    bool        `json:"running"`
	RunID      string      `json:"run_id,omitempty"`
	DryRun     bool        `json:"dry_run"`
	LastStart  *time.Time  `json:"last_start,omitempty"`
	LastFinish *time.Time  `json:"last_finish,omitempty"`
	LastRun    *RunSummary `json:"last_run,omitempty"`
}

// Runner drives scrape runs: discover links, fetch pages, extract, ingest
// images, persist and publish. Only one run is active at a time.
type Runner struct {
	pages    PageSource
	parser   parser.Parser
	images   *Pipeline
	raw      imaging.ObjectStore
	products ProductRepository
	events   EventPublisher
	metrics  *metrics.Metrics
	limiter  *ratelimit.AdaptiveRateLimiter
	sources  []models.SeedSource
	maxLinks int
	logger   *slog.Logger

	now    func() time.Time
	scores func() (trust, trend float64)

	mu     sync.Mutex
	status RunStatus
}

func NewRunner(deps Deps, opts Options, logger *slog.Logger) *Runner {
	if opts.Sources == nil {
		opts.Sources = DefaultSources()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewGenericParser(parser.DefaultMaxImages)
	}

	return &Runner{
		pages:    deps.Pages,
		parser:   deps.Parser,
		images:   deps.Images,
		raw:      deps.RawStore,
		products: deps.Products,
		events:   deps.Events,
		metrics:  deps.Metrics,
		limiter:  ratelimit.NewAdaptiveRateLimiter(opts.DelayMin, opts.DelayMax),
		sources:  opts.Sources,
		maxLinks: opts.MaxLinks,
		logger:   logger.With("component", "runner"),
		now:      time.Now,
		scores:   randomScores,
	}
}

// randomScores draws placeholder trust and trend scores until a scoring
// service fills them in.
func randomScores() (float64, float64) {
	return 0.6 + rand.Float64()*0.3, 0.5 + rand.Float64()*0.4
}

// Status returns a snapshot of the runner state.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run executes a scrape run and blocks until it finishes.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	runID, err := r.begin(opts)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, runID, opts), nil
}

// TryStart launches a run in the background and returns its ID, or
// ErrRunInProgress. ctx bounds the run, so it should outlive the request that
// triggered it.
func (r *Runner) TryStart(ctx context.Context, opts RunOptions) (string, error) {
	runID, err := r.begin(opts)
	if err != nil {
		return "", err
	}
	go r.execute(ctx, runID, opts)
	return runID, nil
}

func (r *Runner) begin(opts RunOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Running {
		return "", ErrRunInProgress
	}

	start := r.now()
	r.status.Running = true
	r.status.RunID = uuid.New().String()
	r.status.DryRun = opts.DryRun
	r.status.LastStart = &start

	return r.status.RunID, nil
}

func (r *Runner) execute(ctx context.Context, runID string, opts RunOptions) *RunSummary {
	logger := r.logger.With("run_id", runID)
	summary := &RunSummary{RunID: runID}
	r.metrics.Runs.Inc()

	r.mu.Lock()
	start := *r.status.LastStart
	r.mu.Unlock()

	logger.Info("scrape run started", "test_url", opts.TestURL, "dry_run", opts.DryRun)
	r.recordStatus(ctx, opts, database.ScraperStatus{
		Status:    database.ScraperStatusRunning,
		RunID:     runID,
		LastStart: &start,
	})

	tasks := r.enqueue(ctx, runID, opts, logger)
	summary.Discovered = tasks.Size()

	for {
		task, err := tasks.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) {
				logger.Warn("run interrupted", "error", err)
			}
			break
		}

		// The first Wait returns at once; later ones pace the pages.
		if err := r.limiter.Wait(ctx); err != nil {
			logger.Warn("run interrupted", "error", err)
			break
		}

		_, err = r.ProcessProductPage(ctx, task.URL, opts.DryRun)
		switch {
		case err == nil:
			summary.Stored++
			r.limiter.RecordSuccess()
		case errors.Is(err, ErrMissingRequiredFields):
			summary.Skipped++
			r.limiter.RecordSuccess()
		default:
			summary.Failed++
			r.limiter.RecordError()
			logger.Error("failed to process product page", "url", task.URL, "error", err)
		}
	}

	finish := r.now()
	r.recordStatus(context.WithoutCancel(ctx), opts, database.ScraperStatus{
		Status:     database.ScraperStatusIdle,
		LastFinish: &finish,
	})

	r.mu.Lock()
	r.status.Running = false
	r.status.LastFinish = &finish
	r.status.LastRun = summary
	r.mu.Unlock()

	logger.Info("scrape run finished",
		"discovered", summary.Discovered,
		"stored", summary.Stored,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", finish.Sub(start))

	return summary
}

// enqueue fills a closed queue with the pages this run will visit.
func (r *Runner) enqueue(ctx context.Context, runID string, opts RunOptions, logger *slog.Logger) *queue.InMemoryQueue {
	q := queue.NewInMemoryQueue()
	defer q.Close()

	push := func(pageURL, source string) {
		_ = q.Push(&queue.Task{ID: uuid.New().String(), URL: pageURL, Source: source})
	}

	if opts.TestURL != "" {
		push(opts.TestURL, "test")
		return q
	}

	for _, source := range r.sources {
		links, err := r.pages.DiscoverLinks(ctx, source, r.maxLinks)
		if err != nil {
			logger.Error("link discovery failed", "source", source.Name, "error", err)
			continue
		}
		for _, link := range links {
			push(link, source.Name)
		}
	}

	logger.Info("pages queued", "count", q.Size())
	return q
}

func (r *Runner) recordStatus(ctx context.Context, opts RunOptions, status database.ScraperStatus) {
	if opts.DryRun || r.products == nil {
		return
	}
	if err := r.products.SetScraperStatus(ctx, status); err != nil {
		r.logger.Warn("failed to record scraper status", "status", status.Status, "error", err)
	}
}

// ProcessProductPage scrapes one product page and returns the stored product
// ID. Records without a title or price yield ErrMissingRequiredFields. In dry
// run mode the record is only logged and the returned ID is empty.
func (r *Runner) ProcessProductPage(ctx context.Context, pageURL string, dryRun bool) (string, error) {
	logger := r.logger.With("url", pageURL)

	html, err := r.pages.FetchHTML(ctx, pageURL)
	if err != nil {
		r.metrics.Page(metrics.PageFailed)
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}

	record := r.parser.Extract(html, pageURL)
	r.countMisses(record)

	if !record.HasRequiredFields() {
		r.metrics.Page(metrics.PageIncomplete)
		logger.Info("skipping page without required fields")
		return "", ErrMissingRequiredFields
	}

	if dryRun {
		r.metrics.Page(metrics.PageDryRun)
		logger.Info("dry run: extracted record", "record", record)
		return "", nil
	}

	if r.products == nil {
		r.metrics.Page(metrics.PageFailed)
		return "", fmt.Errorf("no product repository configured")
	}

	doc := models.NewProductDocument(pageURL, record, r.ingestImages(ctx, record.Images))
	doc.TrustScore, doc.TrendScore = r.scores()
	doc.ProvenanceRawKey = r.saveRawHTML(ctx, pageURL, html)

	id, err := r.products.SaveProduct(ctx, doc, r.publishHooks(doc)...)
	if err != nil {
		r.metrics.Page(metrics.PageFailed)
		return "", fmt.Errorf("failed to save product: %w", err)
	}
	r.metrics.Page(metrics.PageStored)

	logger.Info("product stored",
		"product_id", id,
		"title", doc.Title,
		"images", len(doc.Images))

	return id, nil
}

func (r *Runner) ingestImages(ctx context.Context, urls []string) []models.ImageAsset {
	if r.images == nil || len(urls) == 0 {
		return nil
	}
	return r.images.Ingest(ctx, urls)
}

// saveRawHTML keeps the fetched markup for later re-parsing. Failure is logged
// and leaves the product without provenance.
func (r *Runner) saveRawHTML(ctx context.Context, pageURL, html string) *string {
	if r.raw == nil {
		return nil
	}

	key := RawHTMLKey(r.now(), pageURL)
	uri, err := r.raw.Put(ctx, key, []byte(html), "text/html")
	if err != nil {
		r.logger.Warn("failed to save raw html", "url", pageURL, "key", key, "error", err)
		return nil
	}
	return &uri
}

// publishHooks queues the PRODUCT_SCRAPED event in the transaction that
// stores doc, so a product is never stored without its event.
func (r *Runner) publishHooks(doc *models.ProductDocument) []database.TxHook {
	if r.events == nil {
		return nil
	}

	r.mu.Lock()
	runID := r.status.RunID
	r.mu.Unlock()

	return []database.TxHook{func(ctx context.Context, tx pgx.Tx) error {
		payload := &events.ProductScrapedPayload{
			RunID:           runID,
			ProductID:       doc.ID,
			SourceURL:       doc.SourceURL,
			SourceDomain:    doc.SourceDomain,
			SourceProductID: models.StringValue(doc.SourceProductID),
			Title:           doc.Title,
			Price:           doc.Price,
			Currency:        doc.Currency,
			CategorySlug:    models.StringValue(doc.CategorySlug),
			ImageHashes:     doc.ImageHashes,
			ListingStatus:   doc.ListingStatus,
		}
		if err := r.events.PublishWithTx(ctx, tx, payload); err != nil {
			return fmt.Errorf("failed to queue product event: %w", err)
		}
		return nil
	}}
}

func (r *Runner) countMisses(record *models.ProductRecord) {
	misses := map[string]bool{
		"title":       record.Title == nil,
		"description": record.Description == nil,
		"price":       record.Price == nil,
		"images":      len(record.Images) == 0,
		"category":    record.CategoryName == nil,
	}
	for field, missed := range misses {
		if missed {
			r.metrics.FieldMiss(field)
		}
	}
}
