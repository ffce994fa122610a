package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	before := testutil.ToFloat64(scansTotal.WithLabelValues("TimeIn"))
	ScanRecorded("TimeIn")
	assert.Equal(t, before+1, testutil.ToFloat64(scansTotal.WithLabelValues("TimeIn")))

	beforeUnknown := testutil.ToFloat64(rejectionsTotal.WithLabelValues("unknown"))
	ScanRejected("")
	assert.Equal(t, beforeUnknown+1, testutil.ToFloat64(rejectionsTotal.WithLabelValues("unknown")))

	Occupancy(3, 75)
	assert.Equal(t, 3.0, testutil.ToFloat64(occupancyCurrent))
	assert.Equal(t, 75.0, testutil.ToFloat64(capacityMax))
}
