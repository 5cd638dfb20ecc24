package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetRiskLevel_OnlyActiveLevelIsOne(t *testing.T) {
	SetRiskLevel("CRITICAL")

	assert.Equal(t, 1.0, testutil.ToFloat64(RiskLevel.WithLabelValues("CRITICAL")))
	assert.Equal(t, 0.0, testutil.ToFloat64(RiskLevel.WithLabelValues("OK")))
	assert.Equal(t, 0.0, testutil.ToFloat64(RiskLevel.WithLabelValues("EMERGENCY")))
}

func TestSetRiskLevel_SwitchingLevelsClearsThePrevious(t *testing.T) {
	SetRiskLevel("WARNING")
	SetRiskLevel("OK")

	assert.Equal(t, 0.0, testutil.ToFloat64(RiskLevel.WithLabelValues("WARNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RiskLevel.WithLabelValues("OK")))
}

func TestCounters_IncrementIndependentlyByLabel(t *testing.T) {
	FillsBySide.WithLabelValues("LONG", "OPEN").Inc()
	FillsBySide.WithLabelValues("LONG", "OPEN").Inc()
	FillsBySide.WithLabelValues("SHORT", "CLOSE").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(FillsBySide.WithLabelValues("LONG", "OPEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(FillsBySide.WithLabelValues("SHORT", "CLOSE")))
}
