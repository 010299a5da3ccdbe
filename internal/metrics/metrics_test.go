package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Page(PageStored)
	m.Page(PageStored)
	m.Page(PageFailed)
	m.Image(ImageDeduplicated)
	m.FieldMiss("price")
	m.Runs.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Pages.WithLabelValues(PageStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pages.WithLabelValues(PageFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Images.WithLabelValues(ImageDeduplicated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FieldMisses.WithLabelValues("price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs))

	count, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 5, count)
}
