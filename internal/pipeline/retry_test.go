package pipeline_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/codeagent/internal/config"
	"github.com/kiranshivaraju/codeagent/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := pipeline.DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, 10*time.Second, p.MaxInterval)
	assert.Equal(t, 120*time.Second, p.StageTimeout)
}

func TestPolicyFromConfig(t *testing.T) {
	p := pipeline.PolicyFromConfig(config.PipelineConfig{
		MaxRetries:   4,
		RetryInitial: 250 * time.Millisecond,
		RetryMax:     2 * time.Second,
		StageTimeout: 30 * time.Second,
	})
	assert.Equal(t, pipeline.RetryPolicy{
		MaxRetries:      4,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		StageTimeout:    30 * time.Second,
	}, p)
}
