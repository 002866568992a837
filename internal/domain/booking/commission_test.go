package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateCommission(t *testing.T) {
	tests := []struct {
		bps   int64
		total int64
		want  int64
	}{
		{1500, 10000, 1500},
		{1500, 999, 149},
		{1500, 0, 0},
		{0, 12345, 0},
		{10000, 12345, 12345},
		{1, 9999, 0},
		{1500, 9_000_000_000_000_000, 1_350_000_000_000_000},
	}
	for _, tt := range tests {
		p, err := NewRateCommission(tt.bps)
		require.NoError(t, err)
		got, err := p.Commission(tt.total)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "bps=%d total=%d", tt.bps, tt.total)
	}
}

func TestNewRateCommission_OutOfRange(t *testing.T) {
	_, err := NewRateCommission(-1)
	assert.Error(t, err)
	_, err = NewRateCommission(10001)
	assert.Error(t, err)
}
