package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("cosine")
	assert.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	m, err = ParseMetric("")
	assert.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	m, err = ParseMetric("l2")
	assert.NoError(t, err)
	assert.Equal(t, MetricL2, m)

	_, err = ParseMetric("manhattan")
	assert.Error(t, err)
}

func TestMetricString(t *testing.T) {
	assert.Equal(t, "cosine", MetricCosine.String())
	assert.Equal(t, "l2", MetricL2.String())
}

func TestTenantKeyString(t *testing.T) {
	assert.Equal(t, "course_7", CourseTenant(7).String())
	assert.Equal(t, "doc_42", DocumentTenant(42).String())
}
