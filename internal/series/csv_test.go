package series

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
)

func TestReadBarsCSV(t *testing.T) {
	in := `timestamp_ms,open,high,low,close,volume
7200000,3,4,2,3.5,10
0,1,2,0.5,1.5,7
3600000,2,3,1,2.5
`
	bars, err := ReadBarsCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, domain.Bar{TimestampMs: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 7}, bars[0])
	assert.Equal(t, int64(3600000), bars[1].TimestampMs)
	assert.Zero(t, bars[1].Volume, "volume is optional")
	assert.Equal(t, 3.5, bars[2].Close)
}

func TestReadBarsCSV_Errors(t *testing.T) {
	for _, in := range []string{
		"0,1,2,3\n",
		"x,1,2,3,4\n",
		"0,1,2,y,4\n",
	} {
		_, err := ReadBarsCSV(strings.NewReader(in))
		assert.Error(t, err, in)
	}
}
