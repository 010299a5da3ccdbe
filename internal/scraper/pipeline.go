package scraper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maltedev/grid-scraper/internal/imaging"
	"github.com/maltedev/grid-scraper/internal/metrics"
	"github.com/maltedev/grid-scraper/internal/models"
	"golang.org/x/sync/errgroup"
)

// Pipeline downloads, fingerprints and stores the images of one product.
type Pipeline struct {
	fetcher ImageFetcher
	store   imaging.ObjectStore
	workers int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPipeline(fetcher ImageFetcher, store imaging.ObjectStore, workers int, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Pipeline{
		fetcher: fetcher,
		store:   store,
		workers: workers,
		metrics: m,
		logger:  logger.With("component", "image_pipeline"),
	}
}

// Ingest processes urls concurrently and returns the stored assets in input
// order. A failing image is logged and left out; it never fails the batch.
func (p *Pipeline) Ingest(ctx context.Context, urls []string) []models.ImageAsset {
	results := make([]*models.ImageAsset, len(urls))

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, u := range urls {
		g.Go(func() error {
			asset, err := p.ingestOne(ctx, u)
			if err != nil {
				p.metrics.Image(metrics.ImageFailed)
				level := slog.LevelWarn
				if errors.Is(err, imaging.ErrUndecodable) {
					level = slog.LevelInfo
				}
				p.logger.Log(ctx, level, "image skipped", "url", u, "error", err)
				return nil
			}
			results[i] = asset
			return nil
		})
	}
	_ = g.Wait()

	assets := make([]models.ImageAsset, 0, len(urls))
	for _, a := range results {
		if a != nil {
			assets = append(assets, *a)
		}
	}
	return assets
}

func (p *Pipeline) ingestOne(ctx context.Context, url string) (*models.ImageAsset, error) {
	data, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	asset, err := imaging.Ingest(data)
	if err != nil {
		return nil, err
	}
	asset.SourceURL = url

	wrote, err := imaging.Store(ctx, asset, data, p.store)
	if err != nil {
		return nil, err
	}

	if wrote {
		p.metrics.Image(metrics.ImageStored)
	} else {
		p.metrics.Image(metrics.ImageDeduplicated)
	}
	p.logger.Debug("image ingested", "url", url, "key", asset.StorageKey, "written", wrote)

	return asset, nil
}
