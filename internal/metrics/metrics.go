package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page outcomes.
const (
	PageStored     = "stored"
	PageDryRun     = "dry_run"
	PageIncomplete = "incomplete"
	PageFailed     = "failed"
)

// Image outcomes.
const (
	ImageStored       = "stored"
	ImageDeduplicated = "deduplicated"
	ImageFailed       = "failed"
)

type Metrics struct {
	Pages       *prometheus.CounterVec
	Images      *prometheus.CounterVec
	FieldMisses *prometheus.CounterVec
	Runs        prometheus.Counter
}

// New registers the scraper collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Pages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grid_scraper",
			Name:      "pages_total",
			Help:      "Product pages processed, by outcome.",
		}, []string{"outcome"}),
		Images: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grid_scraper",
			Name:      "images_total",
			Help:      "Images handled by the ingest pipeline, by outcome.",
		}, []string{"outcome"}),
		FieldMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grid_scraper",
			Name:      "field_misses_total",
			Help:      "Extracted records missing a field, by field.",
		}, []string{"field"}),
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "grid_scraper",
			Name:      "runs_total",
			Help:      "Scrape runs started.",
		}),
	}
}

// NewNop returns collectors that are not registered anywhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Page(outcome string) {
	m.Pages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Image(outcome string) {
	m.Images.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FieldMiss(field string) {
	m.FieldMisses.WithLabelValues(field).Inc()
}
