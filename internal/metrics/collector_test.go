package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorDisabledIsNoop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		c.RecordRun("docs", "backup", time.Second, true, RunSummary{FilesCompleted: 1})
	})
	require.NoError(t, c.Start(nil))
}

func TestNewCollectorNilConfigIsNoop(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		c.RecordRun("docs", "backup", time.Second, true, RunSummary{})
	})
}

func TestRecordRunIncrementsCounters(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true})
	require.NoError(t, err)

	c.RecordRun("docs", "backup", 2*time.Second, true, RunSummary{
		FilesCompleted: 3,
		FilesFailed:    1,
		BytesCompleted: 4096,
	})

	assert.Equal(t, float64(1), counterValue(t, c.runsTotal.WithLabelValues("docs", "backup", "success")))
	assert.Equal(t, float64(3), counterValue(t, c.filesCompleted.WithLabelValues("docs", "backup")))
	assert.Equal(t, float64(1), counterValue(t, c.filesFailed.WithLabelValues("docs", "backup")))
	assert.Equal(t, float64(4096), counterValue(t, c.bytesCompleted.WithLabelValues("docs", "backup")))
}

func TestRecordRunTracksFailureStatusSeparately(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true})
	require.NoError(t, err)

	c.RecordRun("docs", "verify", time.Second, false, RunSummary{})

	assert.Equal(t, float64(0), counterValue(t, c.runsTotal.WithLabelValues("docs", "verify", "success")))
	assert.Equal(t, float64(1), counterValue(t, c.runsTotal.WithLabelValues("docs", "verify", "failure")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
