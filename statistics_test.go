package cyclestain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningMean(t *testing.T) {
	r := NewRunningMean(2)
	assert.Equal(t, 0.0, r.Mean())
	r.Push(1)
	assert.Equal(t, 1.0, r.Mean())
	r.Push(2)
	r.Push(3)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2.5, r.Mean())
	r.Push(5)
	assert.Equal(t, 4.0, r.Mean())

	assert.Equal(t, 1, NewRunningMean(0).capacity)
}

func TestStatistics(t *testing.T) {
	s := makeStatistics(3)
	s.push(ContextLoss, 2)
	s.push(ContextLoss, 4)
	s.push("unknown", 1)
	means := s.Means()
	assert.Len(t, means, len(Channels))
	assert.Equal(t, 3.0, means[ContextLoss])
	assert.Equal(t, 0.0, means[CycleHELoss])

	s.record(0, means)
	s.push(ContextLoss, 6)
	s.record(1, s.Means())
	assert.Equal(t, []int{0, 1}, s.Reported)
	assert.Equal(t, []float64{3, 4}, s.History[ContextLoss])

	filename := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, s.Dump(filename))
	b, err := os.ReadFile(filename)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "epoch,"+strings.Join(Channels, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "1,"))
	assert.Contains(t, lines[2], "4.000000")
}
