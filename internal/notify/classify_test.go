package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		text string
		want Severity
	}{
		{"no sources found", SeverityTransient},
		{"rate limited", SeverityTransient},
		{"request timed out after 10s", SeverityTransient},
		{"all releases exhausted", SeverityPermanent},
		{"artist not found", SeverityPermanent},
		{"Download never started - timed out", SeverityPermanent},
		{"permission denied", SeverityCritical},
		{"disk full", SeverityCritical},
		{"no space left on device", SeverityCritical},
		{"authentication failed: invalid api key", SeverityCritical},
		{"something nobody has seen before", SeverityTransient},
		{"", SeverityTransient},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFailure(tt.text))
		})
	}
}

func TestClassifyFailureOrderCriticalWinsOverTransient(t *testing.T) {
	// A message matching both rule sets resolves to the earlier rule.
	got := ClassifyFailure("permission denied after connection reset")
	assert.Equal(t, SeverityCritical, got)

	got = ClassifyFailure("all releases exhausted, rate limited")
	assert.Equal(t, SeverityPermanent, got)
}

func TestClassifyFailureCaseInsensitive(t *testing.T) {
	assert.Equal(t, SeverityCritical, ClassifyFailure("PERMISSION DENIED"))
	assert.Equal(t, SeverityPermanent, ClassifyFailure("All Releases Exhausted"))
}
