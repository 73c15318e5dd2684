package data

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(ts time.Time) types.Bar {
	return types.Bar{Timestamp: ts, Symbol: "EURUSD", Timeframe: types.Timeframe1m}
}

func TestIngestRejectsOutOfOrderAndDuplicates(t *testing.T) {
	p := NewPipeline(10)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, p.Ingest(bar(base)))
	require.True(t, p.Ingest(bar(base.Add(time.Minute))))
	assert.False(t, p.Ingest(bar(base)), "duplicate timestamp must be rejected")
	assert.False(t, p.Ingest(bar(base.Add(30*time.Second))), "out-of-order bar must be rejected")
	assert.Equal(t, 2, p.Len("EURUSD", types.Timeframe1m))
}

func TestWindowCapTrimsOldest(t *testing.T) {
	p := NewPipeline(3)
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p.Ingest(bar(base.Add(time.Duration(i) * time.Minute)))
	}
	window := p.Window("EURUSD", types.Timeframe1m, 0)
	require.Len(t, window, 3)
	assert.Equal(t, base.Add(2*time.Minute), window[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Minute), window[len(window)-1].Timestamp)
}
