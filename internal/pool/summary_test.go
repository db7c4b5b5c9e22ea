package pool_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/pool"
)

func TestSummarize(t *testing.T) {
	results := map[string]model.ExecutionResult{
		"a": {ItemID: "a", Success: true, Elapsed: 1 * time.Second},
		"b": {ItemID: "b", Success: true, Elapsed: 3 * time.Second},
		"c": {ItemID: "c", Success: false, Elapsed: 10 * time.Second, Error: "x"},
	}

	s := pool.Summarize(results)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1*time.Second, s.MinElapsed)
	assert.Equal(t, 2*time.Second, s.AvgElapsed)
	assert.Equal(t, 3*time.Second, s.MaxElapsed)
}

func TestSummarizeAllFailed(t *testing.T) {
	s := pool.Summarize(map[string]model.ExecutionResult{
		"a": {ItemID: "a", Error: "x"},
	})
	assert.Equal(t, pool.Summary{Total: 1, Failed: 1}, s)
}
